package control

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype control calls are sent with.
const codecName = "json"

// jsonCodec carries control messages as JSON so they need no generated
// protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
