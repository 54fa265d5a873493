package cache

import (
	"context"
	"testing"

	"github.com/jiaoziflow/jiaoziflow/lib/transport"
	"github.com/stretchr/testify/require"
)

func TestFSCache_WriteReadRemove(t *testing.T) {
	ctx := context.Background()
	c, err := NewFSCache(t.TempDir(), nil)
	require.NoError(t, err)

	batch := &transport.Batch{
		ID: "batch-1",
		Cells: []*transport.BatchCell{
			{Path: "a.bin", Data: []byte("hello")},
			{Path: "nested/b.bin", Data: []byte("world")},
		},
	}
	require.NoError(t, c.Write(ctx, batch))

	has, err := c.Has(ctx, "batch-1")
	require.NoError(t, err)
	require.True(t, has)

	read, err := c.Read(ctx, "batch-1")
	require.NoError(t, err)
	require.Equal(t, "batch-1", read.ID)
	require.Len(t, read.Cells, 2)

	require.NoError(t, c.Remove(ctx, "batch-1"))
	has, err = c.Has(ctx, "batch-1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestFSCache_ReadMissing(t *testing.T) {
	ctx := context.Background()
	c, err := NewFSCache(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = c.Read(ctx, "missing")
	require.Error(t, err)
}

func TestMemCache_WriteReadRemove(t *testing.T) {
	ctx := context.Background()
	c := NewMemCache()

	batch := &transport.Batch{ID: "batch-1", Cells: []*transport.BatchCell{{Path: "a", Data: []byte("x")}}}
	require.NoError(t, c.Write(ctx, batch))

	has, err := c.Has(ctx, "batch-1")
	require.NoError(t, err)
	require.True(t, has)

	read, err := c.Read(ctx, "batch-1")
	require.NoError(t, err)
	require.Equal(t, batch, read)

	require.NoError(t, c.Remove(ctx, "batch-1"))
	_, err = c.Read(ctx, "batch-1")
	require.Error(t, err)
}
