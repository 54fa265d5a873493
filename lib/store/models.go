// Package store defines the durable, job-scoped record types JiaoziFlow
// persists (graph/node/data-record documents plus the top-level job
// document) and the repository interfaces components use to read and write
// them. Types and behavior are translated from original_source's
// src/core/job_db_models.rs and src/core/main_db_models.rs.
package store

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NodeType distinguishes a compute node's user-container workload from the
// channel node materialized alongside it.
type NodeType string

const (
	NodeTypeCompute NodeType = "Compute"
	NodeTypeChannel NodeType = "Channel"
)

// TrackerState is a node's position in the state machine described in
// spec.md §3.
type TrackerState string

const (
	TrackerStateInit           TrackerState = "Init"
	TrackerStateReady          TrackerState = "Ready"
	TrackerStateStop           TrackerState = "Stop"
	TrackerStateStopped        TrackerState = "Stopped"
	TrackerStateInComingFinish TrackerState = "InComingFinish"
	TrackerStateFinish         TrackerState = "Finish"
)

// IsEndState reports whether the state is terminal: no further reactor
// activity should occur against the node once it reaches Stopped or Finish.
func (s TrackerState) IsEndState() bool {
	return s == TrackerStateStopped || s == TrackerStateFinish
}

// DataState is a data record's position in its direction-specific state
// machine (spec.md §3).
type DataState string

const (
	DataStateReceived         DataState = "Received"
	DataStateAssigned         DataState = "Assigned"
	DataStateProcessed        DataState = "Processed"
	DataStateSelectForSend    DataState = "SelectForSend"
	DataStatePartialSent      DataState = "PartialSent"
	DataStateSent             DataState = "Sent"
	DataStateEndReceived      DataState = "EndReceived"
	DataStateClean            DataState = "Clean"
	DataStateKeeptForMetadata DataState = "KeeptForMetadata"
	DataStateError            DataState = "Error"
)

// Direction distinguishes the two data-record state machines a node drives:
// incoming data it receives, and outgoing data it produces.
type Direction string

const (
	DirectionIn  Direction = "In"
	DirectionOut Direction = "Out"
)

// Bit flags packed into a DataFlag's wire representation, matching
// original_source's KEEP_DATA/TRANSPARENT_DATA constants.
const (
	BitKeepData        uint32 = 0b00000001
	BitTransparentData uint32 = 0b00000010
)

// DataFlag carries the two independent behavior toggles a data record can
// have: keep-data (skip cache eviction once Sent) and transparent-data
// (bypass the user container's IPC surface entirely).
type DataFlag struct {
	IsKeepData        bool `bson:"is_keep_data" json:"is_keep_data"`
	IsTransparentData bool `bson:"is_transparent_data" json:"is_transparent_data"`
}

// ToBits packs the flag into its wire bitmask form.
func (f DataFlag) ToBits() uint32 {
	var result uint32
	if f.IsTransparentData {
		result |= BitTransparentData
	}
	if f.IsKeepData {
		result |= BitKeepData
	}
	return result
}

// DataFlagFromBits unpacks a wire bitmask into a DataFlag.
func DataFlagFromBits(bits uint32) DataFlag {
	return DataFlag{
		IsKeepData:        bits&BitKeepData == BitKeepData,
		IsTransparentData: bits&BitTransparentData == BitTransparentData,
	}
}

// Graph is the job-scoped, immutable record of the DAG the job was deployed
// with, stored verbatim as the JSON it was submitted as.
type Graph struct {
	GraphJSON string `bson:"graph_json" json:"graph_json"`
	CreatedAt int64  `bson:"created_at" json:"created_at"`
	UpdatedAt int64  `bson:"updated_at" json:"updated_at"`
}

// Node is the durable state-machine document for one DAG node (compute or
// channel) within a running job.
type Node struct {
	NodeName         string       `bson:"node_name" json:"node_name"`
	State            TrackerState `bson:"state" json:"state"`
	NodeType         NodeType     `bson:"node_type" json:"node_type"`
	UpNodes          []string     `bson:"up_nodes" json:"up_nodes"`
	IncomingStreams  []string     `bson:"incoming_streams" json:"incoming_streams"`
	OutgoingStreams  []string     `bson:"outgoing_streams" json:"outgoing_streams"`
	CreatedAt        int64        `bson:"created_at" json:"created_at"`
	UpdatedAt        int64        `bson:"updated_at" json:"updated_at"`
}

// DataRecord is one unit of batch metadata tracked through a node's ingress
// or egress pipeline. The record's id is not globally unique: a channel
// node's outgoing id becomes its downstream compute node's incoming id.
type DataRecord struct {
	NodeName  string    `bson:"node_name" json:"node_name"`
	ID        string    `bson:"id" json:"id"`
	Priority  uint8     `bson:"priority" json:"priority"`
	Flag      DataFlag  `bson:"flag" json:"flag"`
	Size      uint32    `bson:"size" json:"size"`
	State     DataState `bson:"state" json:"state"`
	Direction Direction `bson:"direction" json:"direction"`
	Machine   string    `bson:"machine" json:"machine"`
	IsMetadata bool     `bson:"is_metadata" json:"is_metadata"`
	Sent      []string  `bson:"sent" json:"sent"`
	CreatedAt int64     `bson:"created_at" json:"created_at"`
	UpdatedAt int64     `bson:"updated_at" json:"updated_at"`
}

// JobState is a job's lifecycle position (spec.md §4.1/§6).
type JobState string

const (
	JobStateCreated  JobState = "Created"
	JobStateSelected JobState = "Selected"
	JobStateDeployed JobState = "Deployed"
	JobStateRunning  JobState = "Running"
	JobStateError    JobState = "Error"
	JobStateFinish   JobState = "Finish"
	JobStateClean    JobState = "Clean"
)

// Job is the top-level durable record of a submitted pipeline run.
type Job struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	Name      string             `bson:"name" json:"name"`
	GraphJSON string             `bson:"graph_json" json:"graph_json"`
	State     JobState           `bson:"state" json:"state"`
	// ManualRun jobs are never picked up by GetJobForRunning's automatic
	// scan; they must be started explicitly via the job API/CLI.
	ManualRun bool  `bson:"manual_run" json:"manual_run"`
	CreatedAt int64 `bson:"created_at" json:"created_at"`
	UpdatedAt int64 `bson:"updated_at" json:"updated_at"`
}

// JobUpdateInfo carries the subset of Job fields an Update call may change.
type JobUpdateInfo struct {
	State *JobState
}

// ListJobParams filters ListJobs.
type ListJobParams struct {
	State *JobState
}

// GetJobParams selects a single job by id or by name.
type GetJobParams struct {
	Name *string
	ID   *primitive.ObjectID
}

// WithID returns a copy of p with ID set.
func (p GetJobParams) WithID(id primitive.ObjectID) GetJobParams {
	p.ID = &id
	return p
}

// WithName returns a copy of p with Name set.
func (p GetJobParams) WithName(name string) GetJobParams {
	p.Name = &name
	return p
}
