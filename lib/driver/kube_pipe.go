package driver

import (
	"context"

	"github.com/gravitational/trace"
)

// kubePipelineController is the PipelineController for a job deployed by
// KubeDriver. Translated from original_source's driver/kube_pipe/mod.rs.
type kubePipelineController struct {
	namespace string
	order     []string
	handlers  map[string]*kubeHandler
}

var _ PipelineController = (*kubePipelineController)(nil)

// Start launches every node's handler in topological order, so a
// downstream node's StatefulSet never starts before its upstream.
func (c *kubePipelineController) Start(ctx context.Context) error {
	for _, name := range c.order {
		h, ok := c.handlers[name]
		if !ok {
			continue
		}
		if err := h.Start(ctx); err != nil {
			return trace.Wrap(err, "starting node %v", name)
		}
	}
	return nil
}

// NodesInOrder returns the job's compute nodes in topological order (not
// including channel siblings, matching the Dag.Nodes() ordering it was
// built from).
func (c *kubePipelineController) NodesInOrder() []string {
	return append([]string(nil), c.order...)
}

// GetNode returns the handler for name, which may be a compute node or a
// channel sibling (channel names are suffixed "-channel").
func (c *kubePipelineController) GetNode(name string) (UnitHandler, error) {
	h, ok := c.handlers[name]
	if !ok {
		return nil, trace.NotFound("node %v not found in pipeline", name)
	}
	return h, nil
}
