// Package tracker implements the per-node runtime described in spec.md
// §4.5: the DataTracker's ingress, IPC, egress and sweeper reactors. Two
// flavors are implemented, translated from original_source's
// crates/compute_unit_runner/src/data_tracker.rs (ComputeTracker) and
// crates/channel_runner/src/channel_tracker.rs (ChannelTracker) — the
// channel flavor carries no IPC surface since it has no user container.
package tracker

import (
	"time"

	"github.com/jiaoziflow/jiaoziflow/lib/cache"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/sender"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
)

// Canonical tuning values from spec.md §4.5.
const (
	DefaultEgressWorkers  = 10
	DefaultEgressTick     = 5 * time.Second
	DefaultSweepInterval  = 30 * time.Second
	DefaultSubmitPollWait = 10 * time.Second
	DefaultFinishPollWait = 5 * time.Second
	DefaultBufSize        = 64
)

// IsMetadata classifies a channel record id as metadata-only, per
// original_source's nodes_sdk::metadata::is_metadata convention: ids ending
// in the metadata suffix are never evicted on the opaque Clean path, only
// ever moved to KeeptForMetadata.
func IsMetadata(id string) bool {
	const metadataSuffix = ".metadata"
	return len(id) >= len(metadataSuffix) && id[len(id)-len(metadataSuffix):] == metadataSuffix
}

// Config wires one node's tracker to its store, cache, and downstream
// destinations.
type Config struct {
	NodeName        string
	NodeType        store.NodeType
	MachineName     string
	BufSize         int
	OutgoingStreams []string
	UpNodes         []string

	EgressWorkers  int
	EgressTick     time.Duration
	SweepInterval  time.Duration
	SubmitPollWait time.Duration
	FinishPollWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufSize == 0 {
		c.BufSize = DefaultBufSize
	}
	if c.EgressWorkers == 0 {
		c.EgressWorkers = DefaultEgressWorkers
	}
	if c.EgressTick == 0 {
		c.EgressTick = DefaultEgressTick
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.SubmitPollWait == 0 {
		c.SubmitPollWait = DefaultSubmitPollWait
	}
	if c.FinishPollWait == 0 {
		c.FinishPollWait = DefaultFinishPollWait
	}
	return c
}

// deps bundles the shared collaborators both tracker flavors need.
type deps struct {
	store store.JobDbRepo
	cache cache.BatchCache
	send  *sender.MultiSender
	log   jlog.Logger
}
