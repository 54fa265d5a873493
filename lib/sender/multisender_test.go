package sender

import (
	"context"
	"errors"
	"testing"

	"github.com/jiaoziflow/jiaoziflow/lib/transport"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeDataStreamClient struct {
	fail bool
	got  []*transport.Batch
}

func (f *fakeDataStreamClient) TransferBatch(_ context.Context, batch *transport.Batch, _ ...grpc.CallOption) (*transport.Empty, error) {
	if f.fail {
		return nil, errors.New("simulated failure")
	}
	f.got = append(f.got, batch)
	return &transport.Empty{}, nil
}

func TestMultiSender_AllSucceed(t *testing.T) {
	c1 := &fakeDataStreamClient{}
	c2 := &fakeDataStreamClient{}
	dial := func(_ context.Context, addr string) (transport.DataStreamClient, func() error, error) {
		switch addr {
		case "a":
			return c1, func() error { return nil }, nil
		case "b":
			return c2, func() error { return nil }, nil
		}
		return nil, nil, errors.New("unknown addr")
	}

	ms := New([]string{"a", "b"}, dial, nil)
	err := ms.Send(context.Background(), &transport.Batch{ID: "x"}, nil)
	require.NoError(t, err)
	require.Len(t, c1.got, 1)
	require.Len(t, c2.got, 1)
}

func TestMultiSender_PartialFailure(t *testing.T) {
	c1 := &fakeDataStreamClient{}
	c2 := &fakeDataStreamClient{fail: true}
	dial := func(_ context.Context, addr string) (transport.DataStreamClient, func() error, error) {
		switch addr {
		case "a":
			return c1, func() error { return nil }, nil
		case "b":
			return c2, func() error { return nil }, nil
		}
		return nil, nil, errors.New("unknown addr")
	}

	ms := New([]string{"a", "b"}, dial, nil)
	err := ms.Send(context.Background(), &transport.Batch{ID: "x"}, nil)
	require.Error(t, err)
	var partial *PartialSendError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, []string{"a"}, partial.Sent)
}

func TestMultiSender_SkipsAlreadySent(t *testing.T) {
	dial := func(_ context.Context, addr string) (transport.DataStreamClient, func() error, error) {
		return nil, nil, errors.New("should not dial " + addr)
	}

	ms := New([]string{"a"}, dial, nil)
	err := ms.Send(context.Background(), &transport.Batch{ID: "x"}, []string{"a"})
	require.NoError(t, err)
}
