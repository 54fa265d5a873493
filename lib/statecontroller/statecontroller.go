// Package statecontroller implements the local-state reactor described in
// spec.md §4.5.6: a poller that reconciles a node's locally-held state with
// its durable node document, starting the node's tracker reactors the
// moment the driver marks it Ready. Translated from original_source's
// crates/compute_unit_runner/src/state_controller.rs.
package statecontroller

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
)

// DefaultPollInterval matches the 10-second node-document poll spec.md
// §4.5.6 specifies.
const DefaultPollInterval = 10 * time.Second

// Starter is implemented by tracker.ComputeTracker and
// tracker.ChannelTracker: launching their reactors once the node is Ready.
type Starter interface {
	Start(ctx context.Context)
	LocalState() store.TrackerState
}

// Controller polls a single node's document and starts its tracker's
// reactors on the Init -> Ready transition. It runs for the lifetime of
// the process that owns the node (one Controller per node, per pod).
type Controller struct {
	nodeName string
	repo     store.NodeRepo
	starter  Starter
	log      jlog.Logger

	interval time.Duration
}

// New builds a Controller for nodeName.
func New(nodeName string, repo store.NodeRepo, starter Starter, log jlog.Logger) *Controller {
	if log == nil {
		log = jlog.NewDefault("state-controller").WithField("node_name", nodeName)
	}
	return &Controller{
		nodeName: nodeName,
		repo:     repo,
		starter:  starter,
		log:      log,
		interval: DefaultPollInterval,
	}
}

// Run polls until the node reaches a terminal state or ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	local := store.TrackerStateInit
	started := false

	for {
		node, err := c.repo.GetNodeByName(ctx, c.nodeName)
		if err != nil {
			c.log.WithError(err).Error("read node document")
		} else if node.State != local {
			c.log.WithFields(map[string]interface{}{"from": local, "to": node.State}).Info("observed node state change")
			if node.State == store.TrackerStateReady && local == store.TrackerStateInit && !started {
				c.starter.Start(ctx)
				started = true
			}
			local = node.State
		}

		if local.IsEndState() {
			return nil
		}

		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		case <-ticker.C:
		}
	}
}
