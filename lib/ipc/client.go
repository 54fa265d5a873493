package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
)

// Client is the user-container side of the IPC surface: an HTTP client
// dialing a node's Unix domain socket.
type Client struct {
	socketPath string
	http       *http.Client
}

// NewClient returns an IPC client for the node's socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) url(path string) string { return "http://ipc" + path }

// RequestAvailable asks for work, optionally for a specific labelID. A nil
// result with a nil error means no work is available right now.
func (c *Client) RequestAvailable(ctx context.Context, labelID string) (*AvailableData, error) {
	url := c.url("/data")
	if labelID != "" {
		url += "?label=" + labelID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Unknown(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var data AvailableData
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return nil, Unknown(err)
		}
		return &data, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, decodeIPCError(resp)
	}
}

// CompleteResult reports that the user container finished consuming id.
func (c *Client) CompleteResult(ctx context.Context, id string) error {
	return c.post(ctx, "/complete", CompleteRequest{ID: id})
}

// SubmitOutput publishes an output batch's metadata.
func (c *Client) SubmitOutput(ctx context.Context, req SubmitRequest) error {
	return c.post(ctx, "/submit", req)
}

// Finish declares that the user container will produce no more outputs.
func (c *Client) Finish(ctx context.Context) error {
	return c.post(ctx, "/finish", struct{}{})
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return Unknown(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return Unknown(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Unknown(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return decodeIPCError(resp)
}

func decodeIPCError(resp *http.Response) error {
	var ipcErr Error
	if err := json.NewDecoder(resp.Body).Decode(&ipcErr); err != nil {
		return Unknown(fmt.Errorf("ipc request failed with status %v", resp.StatusCode))
	}
	return &ipcErr
}
