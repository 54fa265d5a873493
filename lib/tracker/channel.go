package tracker

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/cache"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/sender"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/jiaoziflow/jiaoziflow/lib/transport"
)

// ChannelTracker is the DataTracker for a channel node: a narrower reactor
// set than ComputeTracker, since a channel node has no user container and
// therefore no IPC surface at all — its ingress writes In/Received (or
// In/KeeptForMetadata bookkeeping on sweep) directly, and its outgoing path
// is driven purely by the shared egress reactor. Translated from
// original_source's ChannelTracker<R> in channel_tracker.rs.
type ChannelTracker struct {
	*base
}

var _ transport.DataStreamServer = (*ChannelTracker)(nil)

// NewChannelTracker builds a ChannelTracker.
func NewChannelTracker(cfg Config, repo store.JobDbRepo, c cache.BatchCache, send *sender.MultiSender, log jlog.Logger) *ChannelTracker {
	if log == nil {
		log = jlog.NewDefault("channel-tracker").WithField("node_name", cfg.NodeName)
	}
	return &ChannelTracker{base: newBase(cfg, deps{store: repo, cache: c, send: send, log: log})}
}

// Start launches the egress and sweeper reactors.
func (t *ChannelTracker) Start(ctx context.Context) {
	t.setLocalState(store.TrackerStateReady)
	t.StartEgress(ctx)
	t.StartSweeper(ctx, t.sweep)
}

// TransferBatch implements transport.DataStreamServer: the channel node's
// ingress reactor. Unlike a compute node it has no IPC surface, so incoming
// data is always inserted as In/Received (tagged is_metadata), driving the
// egress reactor directly rather than waiting on a RequestAvailable call.
func (t *ChannelTracker) TransferBatch(ctx context.Context, batch *transport.Batch) (*transport.Empty, error) {
	existing, err := t.deps.store.FindByNodeID(ctx, t.cfg.NodeName, batch.ID, store.DirectionIn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if existing != nil {
		return &transport.Empty{}, nil
	}

	isMetadata := IsMetadata(batch.ID)
	if !isMetadata {
		count, err := t.deps.store.Count(ctx, t.cfg.NodeName, []store.DataState{store.DataStateReceived}, directionPtr(store.DirectionIn))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if count > t.cfg.BufSize {
			return nil, transport.ErrBackpressure(t.cfg.NodeName)
		}
	}

	if err := t.deps.cache.Write(ctx, batch); err != nil {
		return nil, trace.Wrap(err, "writing batch %v to cache", batch.ID)
	}

	err = t.deps.store.InsertNewPath(ctx, &store.DataRecord{
		NodeName:   t.cfg.NodeName,
		ID:         batch.ID,
		Priority:   batch.Priority,
		Flag:       store.DataFlag{IsKeepData: batch.IsKeepData, IsTransparentData: batch.IsTransparentData},
		Size:       batch.Size,
		State:      store.DataStateReceived,
		Direction:  store.DirectionIn,
		IsMetadata: isMetadata,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if t.hasOutgoing() {
		if err := t.deps.store.InsertNewPath(ctx, &store.DataRecord{
			NodeName:   t.cfg.NodeName,
			ID:         batch.ID,
			Priority:   batch.Priority,
			Flag:       store.DataFlag{IsKeepData: batch.IsKeepData, IsTransparentData: batch.IsTransparentData},
			Size:       batch.Size,
			State:      store.DataStateReceived,
			Direction:  store.DirectionOut,
			IsMetadata: isMetadata,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
		t.pulseEgress()
	}

	return &transport.Empty{}, nil
}

// sweep is the channel-node-specific sweeper hook (spec.md §4.5.5/4.5.6):
// reclaim EndReceived records into Clean or KeeptForMetadata, then — once
// all upstreams are Finish and the outgoing queue is drained — mark this
// node Finish directly (a channel node never passes through
// InComingFinish, since it has no user container to declare itself done).
func (t *ChannelTracker) sweep(ctx context.Context) {
	if err := t.sweepEndReceived(ctx); err != nil {
		t.deps.log.WithError(err).Error("sweep end-received records")
	}

	if t.LocalState() == store.TrackerStateFinish {
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
	count, err := t.deps.store.Count(ctx, t.cfg.NodeName, []store.DataState{
		store.DataStateReceived, store.DataStateAssigned, store.DataStateEndReceived,
	}, directionPtr(store.DirectionOut))
	if err != nil {
		t.deps.log.WithError(err).Error("count pending outgoing records")
		return
	}
	if count != 0 {
		return
	}
	if err := t.deps.store.UpdateNodeByName(ctx, t.cfg.NodeName, store.TrackerStateFinish); err != nil {
		t.deps.log.WithError(err).Error("mark finish")
		return
	}
	t.setLocalState(store.TrackerStateFinish)
}

func (t *ChannelTracker) sweepEndReceived(ctx context.Context) error {
	records, err := t.deps.store.ListByNodeNameAndState(ctx, t.cfg.NodeName, store.DataStateEndReceived)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, rec := range records {
		target := store.DataStateClean
		if rec.IsMetadata {
			target = store.DataStateKeeptForMetadata
		} else if err := t.deps.cache.Remove(ctx, rec.ID); err != nil {
			t.deps.log.WithError(err).Warnf("evict end-received batch %v", rec.ID)
		}
		if err := t.deps.store.UpdateState(ctx, t.cfg.NodeName, rec.ID, rec.Direction, target, nil); err != nil {
			t.deps.log.WithError(err).Errorf("transition end-received batch %v to %v", rec.ID, target)
		}
	}
	return nil
}
