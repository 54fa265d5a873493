package tracker

import (
	"context"
	"testing"

	"github.com/jiaoziflow/jiaoziflow/lib/cache"
	"github.com/jiaoziflow/jiaoziflow/lib/ipc"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/jiaoziflow/jiaoziflow/lib/transport"
	"github.com/stretchr/testify/require"
)

func newTestComputeTracker(t *testing.T, bufSize int) (*ComputeTracker, *store.MemoryJobStore, *cache.MemCache) {
	t.Helper()
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "b", State: store.TrackerStateReady, NodeType: store.NodeTypeCompute}))
	c := cache.NewMemCache()
	cfg := Config{NodeName: "b", NodeType: store.NodeTypeCompute, BufSize: bufSize}
	tr := NewComputeTracker(cfg, repo, c, nil, nil)
	return tr, repo, c
}

func TestComputeTracker_TransferBatch_InsertsReceived(t *testing.T) {
	tr, repo, c := newTestComputeTracker(t, 10)
	ctx := context.Background()

	_, err := tr.TransferBatch(ctx, &transport.Batch{ID: "p1"})
	require.NoError(t, err)

	rec, err := repo.FindByNodeID(ctx, "b", "p1", store.DirectionIn)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, store.DataStateReceived, rec.State)

	has, err := c.Has(ctx, "p1")
	require.NoError(t, err)
	require.True(t, has)
}

func TestComputeTracker_TransferBatch_Dedup(t *testing.T) {
	tr, repo, _ := newTestComputeTracker(t, 10)
	ctx := context.Background()

	_, err := tr.TransferBatch(ctx, &transport.Batch{ID: "p1"})
	require.NoError(t, err)
	_, err = tr.TransferBatch(ctx, &transport.Batch{ID: "p1"})
	require.NoError(t, err)

	count, err := repo.Count(ctx, "b", []store.DataState{store.DataStateReceived}, directionPtr(store.DirectionIn))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestComputeTracker_TransferBatch_Backpressure(t *testing.T) {
	tr, _, _ := newTestComputeTracker(t, 1)
	ctx := context.Background()

	_, err := tr.TransferBatch(ctx, &transport.Batch{ID: "p1"})
	require.NoError(t, err)
	_, err = tr.TransferBatch(ctx, &transport.Batch{ID: "p2"})
	require.NoError(t, err)
	_, err = tr.TransferBatch(ctx, &transport.Batch{ID: "p3"})
	require.Error(t, err)
}

func TestComputeTracker_TransferBatch_Transparent_NoOutgoing(t *testing.T) {
	tr, repo, _ := newTestComputeTracker(t, 10)
	ctx := context.Background()

	_, err := tr.TransferBatch(ctx, &transport.Batch{ID: "p1", IsTransparentData: true})
	require.NoError(t, err)

	rec, err := repo.FindByNodeID(ctx, "b", "p1", store.DirectionIn)
	require.NoError(t, err)
	require.Equal(t, store.DataStateProcessed, rec.State)

	out, err := repo.FindByNodeID(ctx, "b", "p1", store.DirectionOut)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestComputeTracker_RequestAvailable(t *testing.T) {
	tr, _, _ := newTestComputeTracker(t, 10)
	ctx := context.Background()

	data, err := tr.RequestAvailable(ctx, "")
	require.NoError(t, err)
	require.Nil(t, data)

	_, err = tr.TransferBatch(ctx, &transport.Batch{ID: "p1", Size: 42})
	require.NoError(t, err)

	data, err = tr.RequestAvailable(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "p1", data.ID)
	require.Equal(t, uint32(42), data.Size)
}

func TestComputeTracker_RequestAvailable_AlreadyFinish(t *testing.T) {
	tr, _, _ := newTestComputeTracker(t, 10)
	tr.setLocalState(store.TrackerStateFinish)

	_, err := tr.RequestAvailable(context.Background(), "")
	require.Error(t, err)
	ipcErr, ok := err.(*ipc.Error)
	require.True(t, ok)
	require.Equal(t, ipc.ErrAlreadyFinish, ipcErr.Code)
}

func TestComputeTracker_CompleteResult(t *testing.T) {
	tr, repo, c := newTestComputeTracker(t, 10)
	ctx := context.Background()

	_, err := tr.TransferBatch(ctx, &transport.Batch{ID: "p1"})
	require.NoError(t, err)
	_, err = tr.RequestAvailable(ctx, "")
	require.NoError(t, err)

	require.NoError(t, tr.CompleteResult(ctx, "p1"))

	rec, err := repo.FindByNodeID(ctx, "b", "p1", store.DirectionIn)
	require.NoError(t, err)
	require.Equal(t, store.DataStateProcessed, rec.State)

	has, err := c.Has(ctx, "p1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestComputeTracker_SubmitOutput(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "a", State: store.TrackerStateReady}))
	c := cache.NewMemCache()
	cfg := Config{NodeName: "a", BufSize: 10}
	tr := NewComputeTracker(cfg, repo, c, nil, nil)
	ctx := context.Background()

	require.NoError(t, tr.SubmitOutput(ctx, ipc.SubmitRequest{ID: "o1", Size: 7}))

	rec, err := repo.FindByNodeID(ctx, "a", "o1", store.DirectionOut)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, store.DataStateReceived, rec.State)
}

func TestComputeTracker_Finish_DrainedImmediately(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "a", State: store.TrackerStateReady}))
	tr := NewComputeTracker(Config{NodeName: "a"}, repo, cache.NewMemCache(), nil, nil)

	require.NoError(t, tr.Finish(context.Background()))

	node, err := repo.GetNodeByName(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, store.TrackerStateFinish, node.State)
	require.Equal(t, store.TrackerStateFinish, tr.LocalState())
}

func TestComputeTracker_Sweep_MarksIncomingFinish(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "up", State: store.TrackerStateFinish}))
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "b", State: store.TrackerStateReady}))

	cfg := Config{NodeName: "b", UpNodes: []string{"up"}}
	tr := NewComputeTracker(cfg, repo, cache.NewMemCache(), nil, nil)

	tr.sweep(context.Background())

	node, err := repo.GetNodeByName(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, store.TrackerStateInComingFinish, node.State)
}

func TestChannelTracker_MetadataBypassesBackpressure(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "c", State: store.TrackerStateReady, NodeType: store.NodeTypeChannel}))
	ct := NewChannelTracker(Config{NodeName: "c", BufSize: 1}, repo, cache.NewMemCache(), nil, nil)
	ctx := context.Background()

	_, err := ct.TransferBatch(ctx, &transport.Batch{ID: "first"})
	require.NoError(t, err)
	_, err = ct.TransferBatch(ctx, &transport.Batch{ID: "second"})
	require.NoError(t, err)
	// With BufSize 1 the next non-metadata record should hit back-pressure...
	_, err = ct.TransferBatch(ctx, &transport.Batch{ID: "overflow"})
	require.Error(t, err)
	// ...but a metadata-suffixed id bypasses the check.
	_, err = ct.TransferBatch(ctx, &transport.Batch{ID: "third.metadata"})
	require.NoError(t, err)

	rec, err := repo.FindByNodeID(ctx, "c", "third.metadata", store.DirectionIn)
	require.NoError(t, err)
	require.True(t, rec.IsMetadata)
}

func TestChannelTracker_SweepEndReceived(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "c", State: store.TrackerStateReady, NodeType: store.NodeTypeChannel}))
	c := cache.NewMemCache()
	ctx := context.Background()
	require.NoError(t, c.Write(ctx, &transport.Batch{ID: "opaque"}))
	require.NoError(t, repo.InsertNewPath(ctx, &store.DataRecord{NodeName: "c", ID: "opaque", State: store.DataStateEndReceived, Direction: store.DirectionIn}))
	require.NoError(t, repo.InsertNewPath(ctx, &store.DataRecord{NodeName: "c", ID: "meta", State: store.DataStateEndReceived, Direction: store.DirectionIn, IsMetadata: true}))

	ct := NewChannelTracker(Config{NodeName: "c"}, repo, c, nil, nil)
	require.NoError(t, ct.sweepEndReceived(ctx))

	opaque, err := repo.FindByNodeID(ctx, "c", "opaque", store.DirectionIn)
	require.NoError(t, err)
	require.Equal(t, store.DataStateClean, opaque.State)
	has, err := c.Has(ctx, "opaque")
	require.NoError(t, err)
	require.False(t, has)

	meta, err := repo.FindByNodeID(ctx, "c", "meta", store.DirectionIn)
	require.NoError(t, err)
	require.Equal(t, store.DataStateKeeptForMetadata, meta.State)
}
