package cache

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/transport"
)

// MemCache is an in-process BatchCache, used by tests and by nodes that do
// not need cache contents to survive a restart. Translated from MemCache in
// fs_cache.rs.
type MemCache struct {
	mu    sync.Mutex
	store map[string]*transport.Batch
}

var _ BatchCache = (*MemCache)(nil)

// NewMemCache returns an empty in-memory cache.
func NewMemCache() *MemCache {
	return &MemCache{store: make(map[string]*transport.Batch)}
}

func (c *MemCache) Write(_ context.Context, batch *transport.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[batch.ID] = batch
	return nil
}

func (c *MemCache) Read(_ context.Context, id string) (*transport.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch, ok := c.store[id]
	if !ok {
		return nil, trace.NotFound("batch %v not in cache", id)
	}
	return batch, nil
}

func (c *MemCache) Remove(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, id)
	return nil
}

func (c *MemCache) Has(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.store[id]
	return ok, nil
}
