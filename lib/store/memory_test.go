package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFindDataAndMarkState_PriorityOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	require.NoError(t, s.InsertNewPath(ctx, &DataRecord{NodeName: "n1", ID: "b", Priority: 5, State: DataStateReceived, Direction: DirectionOut}))
	require.NoError(t, s.InsertNewPath(ctx, &DataRecord{NodeName: "n1", ID: "a", Priority: 1, State: DataStateReceived, Direction: DirectionOut}))

	rec, err := s.FindDataAndMarkState(ctx, "n1", DirectionOut, true, DataStateSelectForSend, "machine-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "a", rec.ID)

	updated, err := s.FindByNodeID(ctx, "n1", "a", DirectionOut)
	require.NoError(t, err)
	require.Equal(t, DataStateSelectForSend, updated.State)
	require.Equal(t, "machine-1", updated.Machine)
}

func TestFindDataAndMarkState_ExcludesTransparentWhenAsked(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	require.NoError(t, s.InsertNewPath(ctx, &DataRecord{
		NodeName: "n1", ID: "a", Priority: 1, State: DataStateReceived, Direction: DirectionIn,
		Flag: DataFlag{IsTransparentData: true},
	}))

	rec, err := s.FindDataAndMarkState(ctx, "n1", DirectionIn, false, DataStateAssigned, "")
	require.NoError(t, err)
	require.Nil(t, rec)

	rec, err = s.FindDataAndMarkState(ctx, "n1", DirectionIn, true, DataStateAssigned, "")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestRevertNoSuccessSent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	require.NoError(t, s.InsertNewPath(ctx, &DataRecord{NodeName: "n1", ID: "stale", State: DataStateSelectForSend, Direction: DirectionOut}))
	require.NoError(t, s.InsertNewPath(ctx, &DataRecord{NodeName: "n1", ID: "fresh", State: DataStateSelectForSend, Direction: DirectionOut}))

	// Backdate only the stale record past the one-minute cutoff.
	s.data[0].UpdatedAt = time.Now().Add(-2 * time.Minute).Unix()
	s.data[1].UpdatedAt = time.Now().Unix()

	count, err := s.RevertNoSuccessSent(ctx, "n1", DirectionOut)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	stale, err := s.FindByNodeID(ctx, "n1", "stale", DirectionOut)
	require.NoError(t, err)
	require.Equal(t, DataStateReceived, stale.State)

	fresh, err := s.FindByNodeID(ctx, "n1", "fresh", DirectionOut)
	require.NoError(t, err)
	require.Equal(t, DataStateSelectForSend, fresh.State)
}

func TestMarkIncomingFinish_DoesNotOverrideFinish(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	require.NoError(t, s.InsertNode(ctx, &Node{NodeName: "n1", State: TrackerStateFinish}))

	require.NoError(t, s.MarkIncomingFinish(ctx, "n1"))

	n, err := s.GetNodeByName(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, TrackerStateFinish, n.State)
}

func TestMarkIncomingFinish_TransitionsFromReady(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	require.NoError(t, s.InsertNode(ctx, &Node{NodeName: "n1", State: TrackerStateReady}))

	require.NoError(t, s.MarkIncomingFinish(ctx, "n1"))

	n, err := s.GetNodeByName(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, TrackerStateInComingFinish, n.State)
}

func TestGetJobForRunning_SkipsManualRun(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMainStore()

	manual, err := s.Insert(ctx, &Job{Name: "manual", State: JobStateCreated, ManualRun: true})
	require.NoError(t, err)
	auto, err := s.Insert(ctx, &Job{Name: "auto", State: JobStateCreated})
	require.NoError(t, err)

	job, err := s.GetJobForRunning(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, auto.ID, job.ID)
	require.Equal(t, JobStateSelected, job.State)

	stillCreated, err := s.Get(ctx, GetJobParams{}.WithID(manual.ID))
	require.NoError(t, err)
	require.Equal(t, JobStateCreated, stillCreated.State)
}

func TestGetJobForRunning_NoneAvailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMainStore()
	job, err := s.GetJobForRunning(ctx)
	require.NoError(t, err)
	require.Nil(t, job)
}
