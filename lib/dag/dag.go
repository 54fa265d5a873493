// Package dag parses a job's DAG JSON (spec.md §6) into an in-memory graph
// of compute and channel units, and exposes topologically-ordered iteration
// over it. It is the Go translation of original_source's src/dag package.
package dag

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// UnitType distinguishes a compute node's user-container workload from the
// channel node JiaoziFlow materializes alongside it.
type UnitType string

const (
	UnitTypeCompute UnitType = "Compute"
	UnitTypeChannel UnitType = "Channel"
)

// ComputeUnit is one compute node of the DAG: the user container plus its
// dependency edges and, when the node has a channel sibling, that sibling's
// definition.
type ComputeUnit struct {
	ID         uuid.UUID
	Name       string
	Image      string
	Cmd        []string
	Replicas   uint32
	Storage    Storage
	Dependency []string

	Channel *ChannelUnit
}

func (u *ComputeUnit) unitName() string  { return u.Name }
func (u *ComputeUnit) unitID() uuid.UUID { return u.ID }

// ChannelUnit is the buffering/fan-out node JiaoziFlow inserts between a
// compute node and its downstream consumers.
type ChannelUnit struct {
	ID         uuid.UUID
	Name       string
	Replicas   uint32
	Storage    Storage
	Dependency []string
}

func (u *ChannelUnit) unitName() string  { return u.Name }
func (u *ChannelUnit) unitID() uuid.UUID { return u.ID }

// baseUnit is the common identity shared by compute and channel units.
type baseUnit interface {
	unitName() string
	unitID() uuid.UUID
}

var (
	_ baseUnit = (*ComputeUnit)(nil)
	_ baseUnit = (*ChannelUnit)(nil)
)

// Dag is a parsed, validated job graph: every compute unit (and the channel
// units derived from them), keyed by name, plus the dependency graph used to
// drive topologically-ordered iteration.
type Dag struct {
	Name    string
	Version string

	nodes map[string]*ComputeUnit
	order []string // node names (compute only) in dependency order
	g     *graph
}

// rawSpec mirrors the DAG JSON document described in spec.md §6.
type rawSpec struct {
	Name    string        `json:"name"`
	Version string        `json:"version"`
	Dag     []rawNodeSpec `json:"dag"`
}

type rawNodeSpec struct {
	Name       string          `json:"name"`
	Dependency []string        `json:"dependency"`
	Spec       rawUnitSpec     `json:"spec"`
	Channel    *rawChannelSpec `json:"channel,omitempty"`
}

type rawUnitSpec struct {
	Image    string     `json:"image"`
	Cmd      []string   `json:"cmd"`
	Replicas uint32     `json:"replicas"`
	Storage  rawStorage `json:"storage"`
}

type rawChannelSpec struct {
	Spec rawUnitSpec `json:"spec"`
}

type rawStorage struct {
	ClassName  string     `json:"class_name"`
	Capacity   string     `json:"capacity"`
	AccessMode AccessMode `json:"access_mode"`
}

func (s rawStorage) toStorage() Storage {
	return Storage{ClassName: s.ClassName, Capacity: s.Capacity, AccessMode: s.AccessMode}
}

// FromJSON parses a DAG JSON document into a Dag, validating that every
// dependency refers to a known node and that the dependency graph is
// acyclic.
func FromJSON(raw []byte) (*Dag, error) {
	var spec rawSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, trace.Wrap(err, "parsing dag json")
	}
	if spec.Name == "" {
		return nil, trace.BadParameter("dag: missing name")
	}
	if len(spec.Dag) == 0 {
		return nil, trace.BadParameter("dag %v: empty node list", spec.Name)
	}

	d := &Dag{
		Name:    spec.Name,
		Version: spec.Version,
		nodes:   make(map[string]*ComputeUnit, len(spec.Dag)),
	}

	ids := make([]string, 0, len(spec.Dag))
	for _, n := range spec.Dag {
		if n.Name == "" {
			return nil, trace.BadParameter("dag %v: node with empty name", spec.Name)
		}
		if _, ok := d.nodes[n.Name]; ok {
			return nil, trace.BadParameter("dag %v: duplicate node %v", spec.Name, n.Name)
		}
		cu := &ComputeUnit{
			ID:         uuid.New(),
			Name:       n.Name,
			Image:      n.Spec.Image,
			Cmd:        n.Spec.Cmd,
			Replicas:   n.Spec.Replicas,
			Storage:    n.Spec.Storage.toStorage(),
			Dependency: append([]string(nil), n.Dependency...),
		}
		if n.Channel != nil {
			cu.Channel = &ChannelUnit{
				ID:         uuid.New(),
				Name:       channelName(n.Name),
				Replicas:   n.Channel.Spec.Replicas,
				Storage:    n.Channel.Spec.Storage.toStorage(),
				Dependency: []string{n.Name},
			}
		}
		d.nodes[n.Name] = cu
		ids = append(ids, n.Name)
	}

	d.g = graphWithNodes(ids)
	for _, n := range spec.Dag {
		for _, dep := range n.Dependency {
			if _, ok := d.nodes[dep]; !ok {
				return nil, trace.BadParameter("dag %v: node %v depends on unknown node %v", spec.Name, n.Name, dep)
			}
			d.g.addEdge(dep, n.Name)
		}
	}

	order := d.g.topoSort()
	if len(order) != len(d.nodes) {
		return nil, trace.BadParameter("dag %v: dependency graph has a cycle", spec.Name)
	}
	d.order = order

	return d, nil
}

// AddNode inserts a new compute unit into the dag with no dependencies. Used
// by tests constructing a Dag in code rather than from JSON.
func (d *Dag) AddNode(cu *ComputeUnit) {
	if d.nodes == nil {
		d.nodes = make(map[string]*ComputeUnit)
	}
	if cu.ID == uuid.Nil {
		cu.ID = uuid.New()
	}
	d.nodes[cu.Name] = cu
	if d.g == nil {
		d.g = newGraph()
	}
	d.g.addNode(cu.Name)
	d.order = d.g.topoSort()
}

// SetEdge records that "to" depends on "from".
func (d *Dag) SetEdge(from, to string) error {
	if _, ok := d.nodes[from]; !ok {
		return trace.NotFound("node %v not found", from)
	}
	if _, ok := d.nodes[to]; !ok {
		return trace.NotFound("node %v not found", to)
	}
	d.g.addEdge(from, to)
	order := d.g.topoSort()
	if len(order) != len(d.nodes) {
		return trace.BadParameter("adding edge %v -> %v creates a cycle", from, to)
	}
	d.order = order
	return nil
}

// GetNode returns the named compute unit.
func (d *Dag) GetNode(name string) (*ComputeUnit, error) {
	cu, ok := d.nodes[name]
	if !ok {
		return nil, trace.NotFound("node %v not found", name)
	}
	return cu, nil
}

// GetIncomingNodes returns the names of nodes the named node directly
// depends on.
func (d *Dag) GetIncomingNodes(name string) []string {
	return d.g.incomingNodes(name)
}

// GetOutgoingNodes returns the names of nodes that directly depend on the
// named node.
func (d *Dag) GetOutgoingNodes(name string) []string {
	return d.g.outgoingNodes(name)
}

// Successors returns name plus every node reachable from it, name first.
func (d *Dag) Successors(name string) []string {
	return d.g.successors(name)
}

// Iter calls fn for every compute unit in topological order, stopping and
// returning the first error fn produces.
func (d *Dag) Iter(fn func(*ComputeUnit) error) error {
	for _, name := range d.order {
		if err := fn(d.nodes[name]); err != nil {
			return err
		}
	}
	return nil
}

// Nodes returns every node name in topological order.
func (d *Dag) Nodes() []string {
	return append([]string(nil), d.order...)
}

// Len returns the number of compute units in the dag.
func (d *Dag) Len() int {
	return len(d.nodes)
}
