// Package cache implements BatchCache, the staging area a node's ingress
// and egress reactors read and write batch payloads through, translated
// from original_source's crates/nodes_sdk/src/fs_cache.rs.
package cache

import (
	"context"

	"github.com/jiaoziflow/jiaoziflow/lib/transport"
)

// BatchCache stores and retrieves batch payloads by id, independent of the
// durable metadata store (lib/store tracks state; BatchCache tracks bytes).
type BatchCache interface {
	Write(ctx context.Context, batch *transport.Batch) error
	Read(ctx context.Context, id string) (*transport.Batch, error)
	Remove(ctx context.Context, id string) error
	// Has reports whether id's payload is present without reading it.
	Has(ctx context.Context, id string) (bool, error)
}
