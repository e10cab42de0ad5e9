package connectutil

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// JSONCodecName is the codec name negotiated in the Content-Type header
// (application/json, application/connect+json).
const JSONCodecName = "json"

// JSONCodec marshals plain Go request and response structs. Services that
// have no generated protobuf stubs register it on both handler and client.
type JSONCodec struct{}

var _ connect.Codec = JSONCodec{}

func (JSONCodec) Name() string { return JSONCodecName }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal %T: %w", msg, err)
	}
	return b, nil
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("json codec unmarshal %T: %w", msg, err)
	}
	return nil
}
