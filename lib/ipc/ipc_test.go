package ipc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	available *AvailableData
	finishErr error
}

func (f *fakeHandler) RequestAvailable(_ context.Context, labelID string) (*AvailableData, error) {
	if labelID == "missing" {
		return nil, NewError(ErrDataMissing, "no such label")
	}
	return f.available, nil
}

func (f *fakeHandler) CompleteResult(_ context.Context, id string) error {
	if id == "" {
		return NewError(ErrUnknown, "empty id")
	}
	return nil
}

func (f *fakeHandler) SubmitOutput(_ context.Context, req SubmitRequest) error {
	if req.ID == "" {
		return NewError(ErrNotReady, "not ready")
	}
	return nil
}

func (f *fakeHandler) Finish(_ context.Context) error {
	return f.finishErr
}

func startTestServer(t *testing.T, h Handler) (*Client, func()) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "ipc.sock")
	srv := NewServer(socket, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Start(ctx)
		close(done)
	}()

	// Give the listener a moment to bind.
	deadline := time.Now().Add(2 * time.Second)
	client := NewClient(socket)
	for time.Now().Before(deadline) {
		if _, err := client.RequestAvailable(context.Background(), ""); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return client, func() {
		cancel()
		<-done
	}
}

func TestIPC_RequestAvailable_NoWork(t *testing.T) {
	client, stop := startTestServer(t, &fakeHandler{})
	defer stop()

	data, err := client.RequestAvailable(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestIPC_RequestAvailable_HasWork(t *testing.T) {
	client, stop := startTestServer(t, &fakeHandler{available: &AvailableData{ID: "b1", Size: 10}})
	defer stop()

	data, err := client.RequestAvailable(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "b1", data.ID)
	require.Equal(t, uint32(10), data.Size)
}

func TestIPC_RequestAvailable_DataMissing(t *testing.T) {
	client, stop := startTestServer(t, &fakeHandler{})
	defer stop()

	_, err := client.RequestAvailable(context.Background(), "missing")
	require.Error(t, err)
	ipcErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrDataMissing, ipcErr.Code)
}

func TestIPC_CompleteSubmitFinish(t *testing.T) {
	client, stop := startTestServer(t, &fakeHandler{})
	defer stop()

	require.NoError(t, client.CompleteResult(context.Background(), "b1"))
	require.NoError(t, client.SubmitOutput(context.Background(), SubmitRequest{ID: "b2", Size: 5}))
	require.NoError(t, client.Finish(context.Background()))
}

func TestIPC_SubmitOutput_NotReady(t *testing.T) {
	client, stop := startTestServer(t, &fakeHandler{})
	defer stop()

	err := client.SubmitOutput(context.Background(), SubmitRequest{})
	require.Error(t, err)
	ipcErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrNotReady, ipcErr.Code)
}
