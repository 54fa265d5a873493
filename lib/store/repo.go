package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GraphRepo stores the single immutable Graph document for a job.
type GraphRepo interface {
	InsertGlobalState(ctx context.Context, graph *Graph) error
	GetGlobalState(ctx context.Context) (*Graph, error)
}

// NodeRepo stores and transitions per-node state-machine documents.
type NodeRepo interface {
	InsertNode(ctx context.Context, node *Node) error
	GetNodeByName(ctx context.Context, name string) (*Node, error)
	UpdateNodeByName(ctx context.Context, name string, state TrackerState) error
	// MarkIncomingFinish transitions name to InComingFinish, unless it has
	// already reached Finish.
	MarkIncomingFinish(ctx context.Context, name string) error
	IsAllNodeFinish(ctx context.Context) (bool, error)
	// IsAllNodeReady reports whether every node has left Init, i.e. the
	// job as a whole may transition Deployed -> Running.
	IsAllNodeReady(ctx context.Context) (bool, error)
}

// DataRepo stores and transitions per-node data records.
type DataRepo interface {
	// FindDataAndMarkState atomically claims one Received or PartialSent
	// record for node/direction (lowest priority first) and advances it to
	// state, optionally stamping the claiming machine name.
	FindDataAndMarkState(
		ctx context.Context,
		nodeName string,
		direction Direction,
		includeTransparentData bool,
		state DataState,
		machineName string,
	) (*DataRecord, error)

	FindByNodeID(ctx context.Context, nodeName, id string, direction Direction) (*DataRecord, error)

	// RevertNoSuccessSent reverts records stuck in SelectForSend for more
	// than a minute back to Received, returning the count reverted.
	RevertNoSuccessSent(ctx context.Context, nodeName string, direction Direction) (int64, error)

	ListByNodeNameAndState(ctx context.Context, nodeName string, state DataState) ([]*DataRecord, error)

	Count(ctx context.Context, nodeName string, states []DataState, direction *Direction) (int, error)

	InsertNewPath(ctx context.Context, record *DataRecord) error

	UpdateState(ctx context.Context, nodeName, id string, direction Direction, state DataState, sent []string) error
}

// JobDbRepo is the job-scoped durable store (graph + node + data records)
// every DataTracker, StateController, and sweeper reads and writes through.
type JobDbRepo interface {
	GraphRepo
	NodeRepo
	DataRepo
}

// MainRepo is the cross-job store of submitted jobs.
type MainRepo interface {
	Insert(ctx context.Context, job *Job) (*Job, error)
	Get(ctx context.Context, params GetJobParams) (*Job, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	// GetJobForRunning atomically claims one Created, non-manual-run job,
	// transitioning it to Selected.
	GetJobForRunning(ctx context.Context) (*Job, error)
	Update(ctx context.Context, id primitive.ObjectID, info JobUpdateInfo) error
	ListJobs(ctx context.Context, params ListJobParams) ([]*Job, error)
}
