package jobmanager

import (
	"context"
	"testing"
	"time"

	"github.com/jiaoziflow/jiaoziflow/lib/dag"
	"github.com/jiaoziflow/jiaoziflow/lib/driver"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const sampleGraphJSON = `{
  "name": "demo",
  "version": "1",
  "dag": [
    {"name": "a", "dependency": [], "spec": {"image": "img", "cmd": ["/bin/a"], "replicas": 1,
      "storage": {"class_name": "standard", "capacity": "1Gi", "access_mode": "ReadWriteOnce"}}}
  ]
}`

func newTestJob() *store.Job {
	return &store.Job{Name: "demo", GraphJSON: sampleGraphJSON, State: store.JobStateSelected}
}

// noopDriver satisfies driver.Driver without depending on a real cluster;
// Manager.reconcile (exercised directly below) never calls it.
type noopDriver struct{}

func (noopDriver) Deploy(ctx context.Context, namespace string, g *dag.Dag) (driver.PipelineController, error) {
	return nil, nil
}
func (noopDriver) Attach(ctx context.Context, namespace string, g *dag.Dag) (driver.PipelineController, error) {
	return nil, nil
}
func (noopDriver) Clean(ctx context.Context, namespace string) error { return nil }

var _ driver.Driver = noopDriver{}

func TestNamespace_IncludesJobIDForUniqueness(t *testing.T) {
	j1 := newTestJob()
	j1.ID = primitive.NewObjectID()
	j2 := newTestJob()
	j2.ID = primitive.NewObjectID()
	require.NotEqual(t, Namespace(j1), Namespace(j2))
}

func TestManager_ReconcileMarksRunningThenFinish(t *testing.T) {
	repo := store.NewMemoryJobStore()
	require.NoError(t, repo.InsertNode(context.Background(), &store.Node{NodeName: "a", State: store.TrackerStateInit}))

	main := store.NewMemoryMainStore()
	job, err := main.Insert(context.Background(), newTestJob())
	require.NoError(t, err)

	m := New(noopDriver{}, main, func(ctx context.Context, j *store.Job) (store.JobDbRepo, error) {
		return repo, nil
	}, nil)
	m.reconcileInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.reconcile(ctx, job, repo)
		close(done)
	}()

	// Node still Init: job should not yet be Running.
	time.Sleep(15 * time.Millisecond)
	got, err := main.Get(context.Background(), store.GetJobParams{}.WithID(job.ID))
	require.NoError(t, err)
	require.Equal(t, store.JobStateSelected, got.State)

	require.NoError(t, repo.UpdateNodeByName(context.Background(), "a", store.TrackerStateReady))
	require.Eventually(t, func() bool {
		got, err := main.Get(context.Background(), store.GetJobParams{}.WithID(job.ID))
		require.NoError(t, err)
		return got.State == store.JobStateRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, repo.UpdateNodeByName(context.Background(), "a", store.TrackerStateFinish))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconcile did not stop after job finished")
	}

	got, err = main.Get(context.Background(), store.GetJobParams{}.WithID(job.ID))
	require.NoError(t, err)
	require.Equal(t, store.JobStateFinish, got.State)
}

func TestManager_Clean(t *testing.T) {
	main := store.NewMemoryMainStore()
	job, err := main.Insert(context.Background(), newTestJob())
	require.NoError(t, err)

	m := New(noopDriver{}, main, nil, nil)
	require.NoError(t, m.Clean(context.Background(), job))

	got, err := main.Get(context.Background(), store.GetJobParams{}.WithID(job.ID))
	require.NoError(t, err)
	require.Equal(t, store.JobStateClean, got.State)
}
