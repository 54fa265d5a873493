package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/transport"
)

// FSCache stores each batch's cells under <root>/<id>/<cell.Path>, one
// directory per batch id, mirroring FSCache in fs_cache.rs.
type FSCache struct {
	root string
	log  jlog.Logger
}

var _ BatchCache = (*FSCache)(nil)

// NewFSCache returns a BatchCache rooted at dir, creating it if needed.
func NewFSCache(dir string, log jlog.Logger) (*FSCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, trace.Wrap(err, "creating cache root %v", dir)
	}
	if log == nil {
		log = jlog.NewDefault("fs-cache")
	}
	return &FSCache{root: dir, log: log}, nil
}

func (c *FSCache) batchDir(id string) string { return filepath.Join(c.root, id) }

func (c *FSCache) Write(_ context.Context, batch *transport.Batch) error {
	dir := c.batchDir(batch.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return trace.Wrap(err, "creating batch dir %v", dir)
	}
	for _, cell := range batch.Cells {
		path := filepath.Join(dir, filepath.FromSlash(cell.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return trace.Wrap(err, "creating parent dir for %v", path)
		}
		if err := os.WriteFile(path, cell.Data, 0o644); err != nil {
			return trace.Wrap(err, "writing cell %v", path)
		}
	}
	c.log.WithField("id", batch.ID).Debugf("wrote %d cells to disk", len(batch.Cells))
	return nil
}

func (c *FSCache) Read(_ context.Context, id string) (*transport.Batch, error) {
	dir := c.batchDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("batch %v not in cache", id)
		}
		return nil, trace.Wrap(err)
	}

	batch := &transport.Batch{ID: id}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		batch.Cells = append(batch.Cells, &transport.BatchCell{
			Path: filepath.ToSlash(rel),
			Data: data,
		})
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err, "reading batch %v", id)
	}
	batch.Size = uint32(len(batch.Cells))
	return batch, nil
}

func (c *FSCache) Remove(_ context.Context, id string) error {
	if err := os.RemoveAll(c.batchDir(id)); err != nil {
		return trace.Wrap(err, "removing batch %v", id)
	}
	return nil
}

func (c *FSCache) Has(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(c.batchDir(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, trace.Wrap(err)
}
