package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryJobStore is an in-process JobDbRepo used by tests in place of
// MongoJobStore. It reproduces the same query semantics (priority-ordered
// claims, revert cutoffs, conditional transitions) without a live Mongo.
type MemoryJobStore struct {
	mu    sync.Mutex
	graph *Graph
	nodes map[string]*Node
	data  []*DataRecord
}

var _ JobDbRepo = (*MemoryJobStore)(nil)

// NewMemoryJobStore returns an empty job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{nodes: make(map[string]*Node)}
}

func (s *MemoryJobStore) InsertGlobalState(_ context.Context, graph *Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *graph
	s.graph = &cp
	return nil
}

func (s *MemoryJobStore) GetGlobalState(_ context.Context) (*Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph == nil {
		return nil, trace.NotFound("global state not set")
	}
	cp := *s.graph
	return &cp, nil
}

func (s *MemoryJobStore) InsertNode(_ context.Context, node *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[node.NodeName]; ok {
		return trace.AlreadyExists("node %v already exists", node.NodeName)
	}
	cp := *node
	s.nodes[node.NodeName] = &cp
	return nil
}

func (s *MemoryJobStore) GetNodeByName(_ context.Context, name string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[name]
	if !ok {
		return nil, trace.NotFound("node %v not found", name)
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryJobStore) UpdateNodeByName(_ context.Context, name string, state TrackerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[name]
	if !ok {
		return trace.NotFound("node %v not found", name)
	}
	n.State = state
	n.UpdatedAt = time.Now().Unix()
	return nil
}

func (s *MemoryJobStore) MarkIncomingFinish(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[name]
	if !ok {
		return trace.NotFound("node %v not found", name)
	}
	if n.State == TrackerStateFinish {
		return nil
	}
	n.State = TrackerStateInComingFinish
	n.UpdatedAt = time.Now().Unix()
	return nil
}

func (s *MemoryJobStore) IsAllNodeFinish(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.State != TrackerStateFinish {
			return false, nil
		}
	}
	return true, nil
}

func (s *MemoryJobStore) IsAllNodeReady(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.State == TrackerStateInit {
			return false, nil
		}
	}
	return true, nil
}

func (s *MemoryJobStore) FindDataAndMarkState(
	_ context.Context,
	nodeName string,
	direction Direction,
	includeTransparentData bool,
	state DataState,
	machineName string,
) (*DataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*DataRecord
	for _, r := range s.data {
		if r.NodeName != nodeName || r.Direction != direction {
			continue
		}
		if r.State != DataStateReceived && r.State != DataStatePartialSent {
			continue
		}
		if !includeTransparentData && r.Flag.IsTransparentData {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })

	chosen := candidates[0]
	before := *chosen
	chosen.State = state
	chosen.UpdatedAt = time.Now().Unix()
	if machineName != "" {
		chosen.Machine = machineName
	}
	return &before, nil
}

func (s *MemoryJobStore) RevertNoSuccessSent(_ context.Context, nodeName string, direction Direction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Minute).Unix()
	var count int64
	for _, r := range s.data {
		if r.NodeName != nodeName || r.Direction != direction || r.State != DataStateSelectForSend {
			continue
		}
		if r.UpdatedAt < cutoff {
			r.State = DataStateReceived
			r.UpdatedAt = time.Now().Unix()
			count++
		}
	}
	return count, nil
}

func (s *MemoryJobStore) FindByNodeID(_ context.Context, nodeName, id string, direction Direction) (*DataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data {
		if r.NodeName == nodeName && r.ID == id && r.Direction == direction {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryJobStore) ListByNodeNameAndState(_ context.Context, nodeName string, state DataState) ([]*DataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DataRecord
	for _, r := range s.data {
		if r.NodeName == nodeName && r.State == state {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryJobStore) Count(_ context.Context, nodeName string, states []DataState, direction *Direction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stateSet := make(map[DataState]struct{}, len(states))
	for _, st := range states {
		stateSet[st] = struct{}{}
	}
	count := 0
	for _, r := range s.data {
		if r.NodeName != nodeName {
			continue
		}
		if len(stateSet) > 0 {
			if _, ok := stateSet[r.State]; !ok {
				continue
			}
		}
		if direction != nil && r.Direction != *direction {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryJobStore) InsertNewPath(_ context.Context, record *DataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.data = append(s.data, &cp)
	return nil
}

func (s *MemoryJobStore) UpdateState(_ context.Context, nodeName, id string, direction Direction, state DataState, sent []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data {
		if r.NodeName == nodeName && r.ID == id && r.Direction == direction {
			r.State = state
			r.UpdatedAt = time.Now().Unix()
			if sent != nil {
				r.Sent = sent
			}
			return nil
		}
	}
	return trace.NotFound("data record %v/%v/%v not found", nodeName, id, direction)
}

// MemoryMainStore is an in-process MainRepo used by tests in place of
// MongoMainStore.
type MemoryMainStore struct {
	mu   sync.Mutex
	jobs map[primitive.ObjectID]*Job
}

var _ MainRepo = (*MemoryMainStore)(nil)

// NewMemoryMainStore returns an empty job store.
func NewMemoryMainStore() *MemoryMainStore {
	return &MemoryMainStore{jobs: make(map[primitive.ObjectID]*Job)}
}

func (s *MemoryMainStore) Insert(_ context.Context, job *Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return nil, trace.AlreadyExists("job %v already exists", job.Name)
		}
	}
	cp := *job
	s.jobs[job.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryMainStore) Get(_ context.Context, params GetJobParams) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if params.ID == nil && params.Name == nil {
		return nil, trace.BadParameter("get job: id or name required")
	}
	for _, j := range s.jobs {
		if params.ID != nil && j.ID != *params.ID {
			continue
		}
		if params.Name != nil && j.Name != *params.Name {
			continue
		}
		cp := *j
		return &cp, nil
	}
	return nil, trace.NotFound("job not found")
}

func (s *MemoryMainStore) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryMainStore) GetJobForRunning(_ context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.State == JobStateCreated && !j.ManualRun {
			j.State = JobStateSelected
			j.UpdatedAt = time.Now().Unix()
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryMainStore) Update(_ context.Context, id primitive.ObjectID, info JobUpdateInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return trace.NotFound("job not found")
	}
	if info.State != nil {
		j.State = *info.State
	}
	j.UpdatedAt = time.Now().Unix()
	return nil
}

func (s *MemoryMainStore) ListJobs(_ context.Context, params ListJobParams) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if params.State != nil && j.State != *params.State {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}
