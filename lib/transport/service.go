package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serviceName matches the original's "datatransfer.DataStream" gRPC service
// path, preserved so a deployed node addresses its peers the same way.
const serviceName = "datatransfer.DataStream"

// DataStreamServer is implemented by a node's ingress reactor to accept
// batches transferred from an upstream node.
type DataStreamServer interface {
	TransferBatch(ctx context.Context, batch *Batch) (*Empty, error)
}

// DataStreamClient is the node-to-node RPC surface a MultiSender dials.
type DataStreamClient interface {
	TransferBatch(ctx context.Context, batch *Batch, opts ...grpc.CallOption) (*Empty, error)
}

type dataStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewDataStreamClient wraps a gRPC client connection as a DataStreamClient.
func NewDataStreamClient(cc grpc.ClientConnInterface) DataStreamClient {
	return &dataStreamClient{cc: cc}
}

func (c *dataStreamClient) TransferBatch(ctx context.Context, batch *Batch, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/TransferBatch", batch, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterDataStreamServer registers srv's TransferBatch method on s.
func RegisterDataStreamServer(s grpc.ServiceRegistrar, srv DataStreamServer) {
	s.RegisterService(&serviceDesc, srv)
}

func transferBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Batch)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DataStreamServer).TransferBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/TransferBatch",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DataStreamServer).TransferBatch(ctx, req.(*Batch))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DataStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "TransferBatch",
			Handler:    transferBatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "datatransfer.proto",
}

// ErrBackpressure is returned by a server's TransferBatch when its node's
// ingress queue is over capacity — a retriable condition per spec.md §4.3.
func ErrBackpressure(nodeName string) error {
	return status.Errorf(codes.ResourceExhausted, "node %v ingress at capacity, retry later", nodeName)
}

// IsRetriable reports whether err is a transport failure the caller should
// retry (as opposed to a permanent rejection).
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
