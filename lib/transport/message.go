// Package transport implements the node-to-node batch transfer surface
// (spec.md §4.3): a single-method gRPC service, TransferBatch, carrying a
// batch's cell payloads and routing metadata from one node's egress to the
// next node's ingress.
//
// The wire messages below are modeled on the shape protoc-gen-go would
// generate for the original's network::datatransfer service (no .proto file
// ships with original_source; its messages are produced by a build-time
// tonic codegen step we do not have). Rather than fabricate a vendored
// protobuf toolchain, these are hand-written Go structs with their own
// Marshal/Unmarshal, registered as the gRPC wire codec in codec.go — so the
// transport still runs over a real google.golang.org/grpc server/client,
// just without protoc in the loop.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BatchCell is one file-like payload entry within a batch, addressed by its
// relative path inside the batch's staging directory.
type BatchCell struct {
	Path string
	Data []byte
}

// Batch is one unit of data moving between nodes: an id, its cell payloads,
// and the routing metadata the receiving node's ingress reactor needs.
type Batch struct {
	ID                string
	Cells             []*BatchCell
	Size              uint32
	Priority          uint8
	IsKeepData        bool
	IsTransparentData bool
}

// Empty is the TransferBatch response: acknowledgement only.
type Empty struct{}

func (b *Batch) Reset()         { *b = Batch{} }
func (b *Batch) String() string { return fmt.Sprintf("Batch{id=%s, cells=%d}", b.ID, len(b.Cells)) }
func (b *Batch) ProtoMessage()  {}

func (e *Empty) Reset()         { *e = Empty{} }
func (e *Empty) String() string { return "Empty{}" }
func (e *Empty) ProtoMessage()  {}

// Marshal encodes b as a length-prefixed field stream: string/bytes fields
// are uint32-length-prefixed, the cell list is count-prefixed.
func (b *Batch) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, b.ID)
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(b.Cells))); err != nil {
		return nil, err
	}
	for _, c := range b.Cells {
		writeString(&buf, c.Path)
		writeBytes(&buf, c.Data)
	}
	if err := binary.Write(&buf, binary.BigEndian, b.Size); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(b.Priority); err != nil {
		return nil, err
	}
	flags := byte(0)
	if b.IsKeepData {
		flags |= 0b01
	}
	if b.IsTransparentData {
		flags |= 0b10
	}
	if err := buf.WriteByte(flags); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal into b.
func (b *Batch) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	id, err := readString(r)
	if err != nil {
		return err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	cells := make([]*BatchCell, 0, count)
	for i := uint32(0); i < count; i++ {
		path, err := readString(r)
		if err != nil {
			return err
		}
		data, err := readBytes(r)
		if err != nil {
			return err
		}
		cells = append(cells, &BatchCell{Path: path, Data: data})
	}
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return err
	}
	priority, err := r.ReadByte()
	if err != nil {
		return err
	}
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}

	b.ID = id
	b.Cells = cells
	b.Size = size
	b.Priority = priority
	b.IsKeepData = flags&0b01 != 0
	b.IsTransparentData = flags&0b10 != 0
	return nil
}

func (e *Empty) Marshal() ([]byte, error) { return nil, nil }
func (e *Empty) Unmarshal([]byte) error   { return nil }

func writeString(buf *bytes.Buffer, s string) { writeBytes(buf, []byte(s)) }

func writeBytes(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func readString(r *bytes.Reader) (string, error) {
	data, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
