// Package jobclient is a thin HTTP client for the job API (lib/api),
// grounded on original_source's src/api/client/job.rs and translated into
// the teacher's roundtrip-based client idiom (lib/ops/opsclient).
package jobclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
)

// CurrentVersion is the job API's path prefix (spec.md §6: /api/v1).
const CurrentVersion = "api/v1"

// Client talks to a running job API server.
type Client struct {
	roundtrip.Client
}

// ClientParam configures a Client the way roundtrip.ClientParam configures
// a roundtrip.Client.
type ClientParam func(*Client) error

// BasicAuth sets HTTP basic-auth credentials on the client.
func BasicAuth(username, password string) ClientParam {
	return func(c *Client) error {
		return roundtrip.BasicAuth(username, password)(&c.Client)
	}
}

// NewClient returns a Client for the job API rooted at addr (e.g.
// "http://127.0.0.1:8080").
func NewClient(addr string, params ...ClientParam) (*Client, error) {
	rc, err := roundtrip.NewClient(addr, CurrentVersion)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c := &Client{Client: *rc}
	for _, param := range params {
		if err := param(c); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return c, nil
}

// CreateJob submits a new job.
func (c *Client) CreateJob(ctx context.Context, job *store.Job) (*store.Job, error) {
	out, err := c.PostJSON(c.Endpoint("job"), job)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var created store.Job
	if err := json.Unmarshal(out.Bytes(), &created); err != nil {
		return nil, trace.Wrap(err)
	}
	return &created, nil
}

// GetJob fetches a job by id, returning (nil, nil) if it doesn't exist.
func (c *Client) GetJob(ctx context.Context, id string) (*store.Job, error) {
	out, err := c.Get(ctx, c.Endpoint("job", id), url.Values{})
	if trace.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if out.Code() == http.StatusNotFound {
		return nil, nil
	}
	var job store.Job
	if err := json.Unmarshal(out.Bytes(), &job); err != nil {
		return nil, trace.Wrap(err)
	}
	return &job, nil
}

// ListJobs lists every job known to the server.
func (c *Client) ListJobs(ctx context.Context) ([]*store.Job, error) {
	out, err := c.Get(ctx, c.Endpoint("jobs"), url.Values{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var jobs []*store.Job
	if err := json.Unmarshal(out.Bytes(), &jobs); err != nil {
		return nil, trace.Wrap(err)
	}
	return jobs, nil
}

// UpdateJob applies a partial update (e.g. a state transition) to a job.
func (c *Client) UpdateJob(ctx context.Context, id string, info store.JobUpdateInfo) error {
	_, err := c.PostJSON(c.Endpoint("job", id), info)
	return trace.Wrap(err)
}

// DeleteJob removes a job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	_, err := c.Delete(c.Endpoint("job", id))
	return trace.Wrap(err)
}

// JobDetail mirrors lib/api.JobDetail without importing lib/api (which
// would pull in the server's driver/store wiring just for a response
// shape).
type JobDetail struct {
	Job        *store.Job   `json:"job"`
	NodeStatus []NodeDetail `json:"node_status"`
}

// NodeDetail mirrors lib/api.NodeDetail.
type NodeDetail struct {
	Name      string               `json:"name"`
	State     store.TrackerState   `json:"state"`
	DataCount int                  `json:"data_count"`
	Replicas  uint32               `json:"replicas"`
	Storage   string               `json:"storage"`
	Pods      map[string]PodStatus `json:"pods"`
}

// PodStatus mirrors driver.PodStatus.
type PodStatus struct {
	State       string  `json:"state"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage int64   `json:"memory_usage"`
}

// JobDetail fetches the job-detail view (job plus per-node cluster status).
func (c *Client) JobDetail(ctx context.Context, id string) (*JobDetail, error) {
	out, err := c.Get(ctx, c.Endpoint("job", "detail", id), url.Values{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var detail JobDetail
	if err := json.Unmarshal(out.Bytes(), &detail); err != nil {
		return nil, trace.Wrap(err)
	}
	return &detail, nil
}
