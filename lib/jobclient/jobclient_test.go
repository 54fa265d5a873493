package jobclient

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/jiaoziflow/jiaoziflow/lib/api"
	"github.com/jiaoziflow/jiaoziflow/lib/dag"
	"github.com/jiaoziflow/jiaoziflow/lib/driver"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/stretchr/testify/require"
)

const sampleGraphJSON = `{
  "name": "demo",
  "version": "1",
  "dag": [
    {"name": "a", "dependency": [], "spec": {"image": "img", "cmd": ["/bin/a"], "replicas": 1,
      "storage": {"class_name": "standard", "capacity": "1Gi", "access_mode": "ReadWriteOnce"}}}
  ]
}`

type stubDriver struct{}

func (stubDriver) Deploy(ctx context.Context, namespace string, g *dag.Dag) (driver.PipelineController, error) {
	return nil, nil
}

func (stubDriver) Attach(ctx context.Context, namespace string, g *dag.Dag) (driver.PipelineController, error) {
	return nil, nil
}

func (stubDriver) Clean(ctx context.Context, namespace string) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	main := store.NewMemoryMainStore()
	open := func(ctx context.Context, job *store.Job) (store.JobDbRepo, error) {
		return store.NewMemoryJobStore(), nil
	}
	h := api.NewHandler(main, stubDriver{}, open, nil)
	return httptest.NewServer(h)
}

func TestClient_CreateGetListUpdateDelete(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx := context.Background()
	created, err := c.CreateJob(ctx, &store.Job{Name: "demo", GraphJSON: sampleGraphJSON})
	require.NoError(t, err)
	require.Equal(t, store.JobStateCreated, created.State)

	got, err := c.GetJob(ctx, created.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, created.Name, got.Name)

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	running := store.JobStateRunning
	require.NoError(t, c.UpdateJob(ctx, created.ID.Hex(), store.JobUpdateInfo{State: &running}))

	got, err = c.GetJob(ctx, created.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, store.JobStateRunning, got.State)

	detail, err := c.JobDetail(ctx, created.ID.Hex())
	require.NoError(t, err)
	require.Len(t, detail.NodeStatus, 1)

	require.NoError(t, c.DeleteJob(ctx, created.ID.Hex()))

	got, err = c.GetJob(ctx, created.ID.Hex())
	require.NoError(t, err)
	require.Nil(t, got)
}
