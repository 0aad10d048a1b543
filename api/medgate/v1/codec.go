package medgatev1

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// CodecName is the gRPC content subtype: application/grpc+json.
const CodecName = "json"

// Codec marshals protobuf messages with protojson and everything else with encoding/json.
type Codec struct{}

var _ encoding.Codec = Codec{}

func init() { encoding.RegisterCodec(Codec{}) }

// Marshal encodes v.
func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

// Unmarshal decodes data into v.
func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

// Name returns CodecName.
func (Codec) Name() string { return CodecName }
