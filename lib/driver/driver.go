// Package driver defines the contract JobManager uses to materialize a DAG
// onto a cluster (spec.md §4.6, §8 Driver) and a concrete Kubernetes
// implementation. Translated from original_source's src/driver/mod.rs and
// src/driver/kube_derive.rs.
package driver

import (
	"context"

	"github.com/jiaoziflow/jiaoziflow/lib/dag"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
)

// PodStatus mirrors one container's runtime metrics within a node's pod.
type PodStatus struct {
	State       string  `json:"state"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage int64   `json:"memory_usage"`
}

// NodeStatus is a point-in-time snapshot of one DAG node's deployed
// resources.
type NodeStatus struct {
	Name     string               `json:"name"`
	State    store.TrackerState   `json:"state"`
	Replicas int32                `json:"replicas"`
	Storage  string               `json:"storage"`
	Pods     map[string]PodStatus `json:"pods"`
}

// UnitHandler manages the cluster resources backing a single DAG node.
type UnitHandler interface {
	Name() string
	Start(ctx context.Context) error
	Status(ctx context.Context) (NodeStatus, error)
	Pause(ctx context.Context) error
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
}

// PipelineController owns the UnitHandler set for one deployed job and
// knows the DAG's topological node order.
type PipelineController interface {
	Start(ctx context.Context) error
	NodesInOrder() []string
	GetNode(name string) (UnitHandler, error)
}

// Driver materializes (and tears down) a DAG's cluster resources under a
// namespace. Deploy is used for first-time provisioning; Attach re-opens a
// PipelineController over resources a previous Deploy already created
// (process restart).
type Driver interface {
	Deploy(ctx context.Context, namespace string, g *dag.Dag) (PipelineController, error)
	Attach(ctx context.Context, namespace string, g *dag.Dag) (PipelineController, error)
	Clean(ctx context.Context, namespace string) error
}
