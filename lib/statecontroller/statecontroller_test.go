package statecontroller

import (
	"context"
	"testing"
	"time"

	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	startCalls int
	state      store.TrackerState
}

func (f *fakeStarter) Start(ctx context.Context)      { f.startCalls++ }
func (f *fakeStarter) LocalState() store.TrackerState { return f.state }

func TestController_StartsOnReadyTransition(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "a", State: store.TrackerStateInit}))

	starter := &fakeStarter{}
	c := New("a", repo, starter, nil)
	c.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, repo.UpdateNodeByName(context.Background(), "a", store.TrackerStateReady))

	require.Eventually(t, func() bool { return starter.startCalls == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, repo.UpdateNodeByName(context.Background(), "a", store.TrackerStateFinish))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("controller did not stop after Finish")
	}
	require.Equal(t, 1, starter.startCalls)
}

func TestController_StopsOnContextCancel(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "a", State: store.TrackerStateInit}))

	starter := &fakeStarter{}
	c := New("a", repo, starter, nil)
	c.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("controller did not stop after cancel")
	}
}
