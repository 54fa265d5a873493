package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jiaoziflow/jiaoziflow/lib/sender"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
)

// base holds the reactor plumbing shared by ComputeTracker and
// ChannelTracker: local state tracking, the egress worker pool, and the
// background sweeper. Node-type-specific ingress/IPC behavior lives in the
// embedding type.
type base struct {
	cfg  Config
	deps deps

	localState atomic.Value // store.TrackerState

	wakeCh chan struct{}

	wg sync.WaitGroup
}

func newBase(cfg Config, d deps) *base {
	b := &base{
		cfg:    cfg.withDefaults(),
		deps:   d,
		wakeCh: make(chan struct{}, 1),
	}
	b.localState.Store(store.TrackerStateInit)
	return b
}

func (b *base) LocalState() store.TrackerState {
	return b.localState.Load().(store.TrackerState)
}

func (b *base) setLocalState(s store.TrackerState) {
	b.localState.Store(s)
}

// pulseEgress wakes the egress workers, dropping the pulse if one is
// already pending (spec.md §4.5.4: dropping excess pulses is correct).
func (b *base) pulseEgress() {
	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}

// hasOutgoing reports whether this node has any downstream destinations at
// all, i.e. whether an egress reactor should run.
func (b *base) hasOutgoing() bool {
	return b.deps.send != nil && len(b.cfg.OutgoingStreams) > 0
}

// StartEgress launches the egress worker pool plus the ticker that wakes
// them periodically. It returns immediately; workers stop when ctx is
// canceled.
func (b *base) StartEgress(ctx context.Context) {
	if !b.hasOutgoing() {
		return
	}
	ticker := time.NewTicker(b.cfg.EgressTick)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.pulseEgress()
			}
		}
	}()

	for i := 0; i < b.cfg.EgressWorkers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.egressWorker(ctx)
		}()
	}
}

func (b *base) egressWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wakeCh:
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			rec, err := b.deps.store.FindDataAndMarkState(
				ctx, b.cfg.NodeName, store.DirectionOut, true, store.DataStateSelectForSend, b.cfg.MachineName,
			)
			if err != nil {
				b.deps.log.WithError(err).Error("claim outgoing record")
				break
			}
			if rec == nil {
				break
			}

			batch, err := b.deps.cache.Read(ctx, rec.ID)
			if err != nil {
				b.deps.log.WithError(err).Errorf("read cached batch %v", rec.ID)
				_ = b.deps.store.UpdateState(ctx, b.cfg.NodeName, rec.ID, store.DirectionOut, store.DataStateError, nil)
				break
			}
			batch.Priority = rec.Priority
			batch.IsKeepData = rec.Flag.IsKeepData
			batch.IsTransparentData = rec.Flag.IsTransparentData

			sendErr := b.deps.send.Send(ctx, batch, rec.Sent)
			if sendErr == nil {
				_ = b.deps.store.UpdateState(ctx, b.cfg.NodeName, rec.ID, store.DirectionOut, store.DataStateSent, b.deps.send.Streams())
				if !rec.Flag.IsKeepData {
					if err := b.deps.cache.Remove(ctx, rec.ID); err != nil {
						b.deps.log.WithError(err).Warnf("evict sent batch %v", rec.ID)
					}
				}
				continue
			}

			var partial *sender.PartialSendError
			if errors.As(sendErr, &partial) {
				_ = b.deps.store.UpdateState(ctx, b.cfg.NodeName, rec.ID, store.DirectionOut, store.DataStatePartialSent, partial.Sent)
			} else {
				b.deps.log.WithError(sendErr).Errorf("send batch %v", rec.ID)
			}
			break
		}
	}
}

// upNodesAllFinished reports whether every configured upstream node has
// reached the Finish state.
func (b *base) upNodesAllFinished(ctx context.Context) (bool, error) {
	for _, name := range b.cfg.UpNodes {
		node, err := b.deps.store.GetNodeByName(ctx, name)
		if err != nil {
			return false, err
		}
		if node.State != store.TrackerStateFinish {
			return false, nil
		}
	}
	return true, nil
}

// StartSweeper runs extra once per tick alongside the shared
// RevertNoSuccessSent reclaim, after which it is up to extra to evaluate
// any node-type-specific finish gating.
func (b *base) StartSweeper(ctx context.Context, extra func(context.Context)) {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.deps.store.RevertNoSuccessSent(ctx, b.cfg.NodeName, store.DirectionOut); err != nil {
					b.deps.log.WithError(err).Error("revert stranded outgoing records")
				}
				if extra != nil {
					extra(ctx)
				}
			}
		}
	}()
}

// Wait blocks until every reactor goroutine this base started has
// returned (i.e. their context was canceled).
func (b *base) Wait() {
	b.wg.Wait()
}

