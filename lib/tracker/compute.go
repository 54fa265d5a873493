package tracker

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/cache"
	"github.com/jiaoziflow/jiaoziflow/lib/ipc"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/sender"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/jiaoziflow/jiaoziflow/lib/transport"
)

// ComputeTracker is the DataTracker for a compute node: it serves the
// node-to-node TransferBatch RPC on its ingress side, the IPC surface
// (RequestAvailable/CompleteResult/SubmitOutput/Finish) to its user
// container, and — when it has downstream destinations — an egress fan-out.
// Translated from original_source's MediaDataTracker<R> in data_tracker.rs.
type ComputeTracker struct {
	*base
}

var (
	_ transport.DataStreamServer = (*ComputeTracker)(nil)
	_ ipc.Handler                = (*ComputeTracker)(nil)
)

// NewComputeTracker builds a ComputeTracker. send may be nil when the node
// has no outgoing streams (a pipeline sink).
func NewComputeTracker(cfg Config, repo store.JobDbRepo, c cache.BatchCache, send *sender.MultiSender, log jlog.Logger) *ComputeTracker {
	if log == nil {
		log = jlog.NewDefault("compute-tracker").WithField("node_name", cfg.NodeName)
	}
	return &ComputeTracker{base: newBase(cfg, deps{store: repo, cache: c, send: send, log: log})}
}

// Start launches the egress and sweeper reactors (ingress and IPC are
// served synchronously by TransferBatch / the ipc.Server calling Handler
// methods directly, so they need no background goroutine of their own).
func (t *ComputeTracker) Start(ctx context.Context) {
	t.setLocalState(store.TrackerStateReady)
	t.StartEgress(ctx)
	t.StartSweeper(ctx, t.sweep)
}

// TransferBatch implements transport.DataStreamServer: the ingress reactor
// (spec.md §4.5.1).
func (t *ComputeTracker) TransferBatch(ctx context.Context, batch *transport.Batch) (*transport.Empty, error) {
	// 1. Dedup: at-least-once delivery means a retried send must be a no-op.
	existing, err := t.deps.store.FindByNodeID(ctx, t.cfg.NodeName, batch.ID, store.DirectionIn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if existing != nil {
		return &transport.Empty{}, nil
	}

	// 2. Back-pressure.
	count, err := t.deps.store.Count(ctx, t.cfg.NodeName, []store.DataState{store.DataStateReceived}, directionPtr(store.DirectionIn))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if count > t.cfg.BufSize {
		return nil, transport.ErrBackpressure(t.cfg.NodeName)
	}

	// 3. Persist payload.
	if err := t.deps.cache.Write(ctx, batch); err != nil {
		return nil, trace.Wrap(err, "writing batch %v to cache", batch.ID)
	}

	// 4. Insert record(s).
	flag := store.DataFlag{IsKeepData: batch.IsKeepData, IsTransparentData: batch.IsTransparentData}
	if batch.IsTransparentData {
		if err := t.deps.store.InsertNewPath(ctx, &store.DataRecord{
			NodeName: t.cfg.NodeName, ID: batch.ID, Priority: batch.Priority, Flag: flag,
			Size: batch.Size, State: store.DataStateProcessed, Direction: store.DirectionIn,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
		if t.hasOutgoing() {
			if err := t.deps.store.InsertNewPath(ctx, &store.DataRecord{
				NodeName: t.cfg.NodeName, ID: batch.ID, Priority: batch.Priority, Flag: flag,
				Size: batch.Size, State: store.DataStateReceived, Direction: store.DirectionOut,
			}); err != nil {
				return nil, trace.Wrap(err)
			}
			t.pulseEgress()
		}
	} else {
		if err := t.deps.store.InsertNewPath(ctx, &store.DataRecord{
			NodeName: t.cfg.NodeName, ID: batch.ID, Priority: batch.Priority, Flag: flag,
			Size: batch.Size, State: store.DataStateReceived, Direction: store.DirectionIn,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	return &transport.Empty{}, nil
}

// RequestAvailable implements ipc.Handler (spec.md §4.5.2).
func (t *ComputeTracker) RequestAvailable(ctx context.Context, labelID string) (*ipc.AvailableData, error) {
	if labelID != "" {
		rec, err := t.deps.store.FindByNodeID(ctx, t.cfg.NodeName, labelID, store.DirectionIn)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if rec == nil {
			return nil, nil
		}
		has, err := t.deps.cache.Has(ctx, labelID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !has {
			return nil, ipc.NewError(ipc.ErrDataMissing, "payload for %v not in cache", labelID)
		}
		return &ipc.AvailableData{ID: rec.ID, Size: rec.Size}, nil
	}

	switch t.LocalState() {
	case store.TrackerStateFinish:
		return nil, ipc.NewError(ipc.ErrAlreadyFinish, "node %v already finished", t.cfg.NodeName)
	case store.TrackerStateInComingFinish:
		return nil, ipc.NewError(ipc.ErrInComingFinish, "node %v has no more inputs", t.cfg.NodeName)
	}

	rec, err := t.deps.store.FindDataAndMarkState(ctx, t.cfg.NodeName, store.DirectionIn, false, store.DataStateAssigned, t.cfg.MachineName)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if rec == nil {
		return nil, nil
	}
	return &ipc.AvailableData{ID: rec.ID, Size: rec.Size}, nil
}

// CompleteResult implements ipc.Handler (spec.md §4.5.3).
func (t *ComputeTracker) CompleteResult(ctx context.Context, id string) error {
	if t.LocalState() == store.TrackerStateFinish {
		return ipc.NewError(ipc.ErrAlreadyFinish, "node %v already finished", t.cfg.NodeName)
	}
	if err := t.deps.store.UpdateState(ctx, t.cfg.NodeName, id, store.DirectionIn, store.DataStateProcessed, nil); err != nil {
		return trace.Wrap(err)
	}
	if err := t.deps.cache.Remove(ctx, id); err != nil {
		t.deps.log.WithError(err).Warnf("evict processed batch %v", id)
	}
	return nil
}

// SubmitOutput implements ipc.Handler (spec.md §4.5.3). It blocks, polling
// with sleep, until there is room in the outgoing buffer.
func (t *ComputeTracker) SubmitOutput(ctx context.Context, req ipc.SubmitRequest) error {
	if t.LocalState() == store.TrackerStateFinish {
		return ipc.NewError(ipc.ErrAlreadyFinish, "node %v already finished", t.cfg.NodeName)
	}

	states := []store.DataState{store.DataStateReceived, store.DataStatePartialSent}
	for {
		count, err := t.deps.store.Count(ctx, t.cfg.NodeName, states, directionPtr(store.DirectionOut))
		if err != nil {
			return trace.Wrap(err)
		}
		if count <= t.cfg.BufSize {
			break
		}
		if err := sleepOrDone(ctx, t.cfg.SubmitPollWait); err != nil {
			return err
		}
	}

	err := t.deps.store.InsertNewPath(ctx, &store.DataRecord{
		NodeName: t.cfg.NodeName,
		ID:       req.ID,
		Priority: req.Priority,
		Flag:     store.DataFlag{IsKeepData: req.IsKeepData, IsTransparentData: req.IsTransparentData},
		Size:     req.Size,
		State:    store.DataStateReceived,
		Direction: store.DirectionOut,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	t.pulseEgress()
	return nil
}

// Finish implements ipc.Handler (spec.md §4.5.3). It blocks, polling with
// sleep, until the outgoing queue has fully drained.
func (t *ComputeTracker) Finish(ctx context.Context) error {
	states := []store.DataState{
		store.DataStateReceived, store.DataStateAssigned,
		store.DataStateSelectForSend, store.DataStatePartialSent,
	}
	for {
		count, err := t.deps.store.Count(ctx, t.cfg.NodeName, states, directionPtr(store.DirectionOut))
		if err != nil {
			return trace.Wrap(err)
		}
		if count == 0 {
			break
		}
		if err := sleepOrDone(ctx, t.cfg.FinishPollWait); err != nil {
			return err
		}
	}
	if err := t.deps.store.UpdateNodeByName(ctx, t.cfg.NodeName, store.TrackerStateFinish); err != nil {
		return trace.Wrap(err)
	}
	t.setLocalState(store.TrackerStateFinish)
	return nil
}

// sweep is the compute-node-specific sweeper hook (spec.md §4.5.5/4.5.6):
// once all upstreams are Finish and the incoming queue is drained, mark
// this node InComingFinish.
func (t *ComputeTracker) sweep(ctx context.Context) {
	if t.LocalState() == store.TrackerStateInComingFinish || t.LocalState() == store.TrackerStateFinish {
		return
	}
	allFinished, err := t.upNodesAllFinished(ctx)
	if err != nil {
		t.deps.log.WithError(err).Error("check upstream finish state")
		return
	}
	if !allFinished {
		return
	}
	count, err := t.deps.store.Count(ctx, t.cfg.NodeName, []store.DataState{store.DataStateReceived, store.DataStateAssigned}, directionPtr(store.DirectionIn))
	if err != nil {
		t.deps.log.WithError(err).Error("count pending incoming records")
		return
	}
	if count != 0 {
		return
	}
	if err := t.deps.store.MarkIncomingFinish(ctx, t.cfg.NodeName); err != nil {
		t.deps.log.WithError(err).Error("mark incoming finish")
		return
	}
	t.setLocalState(store.TrackerStateInComingFinish)
}

func directionPtr(d store.Direction) *store.Direction { return &d }
