package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as the gRPC content-subtype, so every call on
// this transport negotiates "application/grpc+json" instead of the default
// protobuf wire format. No protoc-generated marshaler is involved (orig
// §1's code-generation tooling is out of scope); encoding/json round-trips
// the envelope structs directly.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is the content-subtype callers pass via
// grpc.CallContentSubtype / grpc.ForceServerCodec.
const CodecName = codecName

// DecodePayload round-trips a ClientEnvelope.Payload map into one of the
// typed *Payload/*Result structs in envelope.go, via a JSON re-encode —
// the payload arrived as a map[string]any because ClientEnvelope itself
// doesn't know its own Type's concrete payload shape.
func DecodePayload(payload map[string]any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// EncodePayload is the inverse of DecodePayload, used when building an
// outbound envelope from a typed payload struct.
func EncodePayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
