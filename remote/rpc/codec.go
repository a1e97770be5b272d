package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// The drive service speaks JSON instead of protobuf,
// since its messages carry linked-data records,
// which are JSON already.

const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
