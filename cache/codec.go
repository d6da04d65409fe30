package cache

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
)

// Codec converts results to and from their cached representation.
type Codec[R any] interface {
	Encode(R) ([]byte, error)
	Decode([]byte) (R, error)
}

// JSONCodec stores results as JSON.
type JSONCodec[R any] struct{}

func (JSONCodec[R]) Encode(v R) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[R]) Decode(b []byte) (R, error) {
	var v R
	err := json.Unmarshal(b, &v)
	return v, err
}

// ProtoCodec stores protobuf messages in wire format. New must return an
// empty message to decode into.
type ProtoCodec[M proto.Message] struct {
	New func() M
}

func (ProtoCodec[M]) Encode(m M) ([]byte, error) { return proto.Marshal(m) }

func (c ProtoCodec[M]) Decode(b []byte) (M, error) {
	m := c.New()
	err := proto.Unmarshal(b, m)
	return m, err
}
