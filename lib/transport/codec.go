package transport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

type marshaler interface {
	Marshal() ([]byte, error)
}

type unmarshaler interface {
	Unmarshal([]byte) error
}

// wireCodec replaces grpc-go's default "proto" codec with one that dispatches
// to Batch/Empty's own Marshal/Unmarshal instead of protobuf reflection,
// since these types are hand-written rather than protoc-generated.
type wireCodec struct{}

func (wireCodec) Name() string { return "proto" }

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(marshaler)
	if !ok {
		return nil, fmt.Errorf("transport: %T does not implement Marshal", v)
	}
	return m.Marshal()
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	u, ok := v.(unmarshaler)
	if !ok {
		return fmt.Errorf("transport: %T does not implement Unmarshal", v)
	}
	return u.Unmarshal(data)
}

func init() {
	encoding.RegisterCodec(wireCodec{})
}
