package rpcmsg

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc-go's encoding package in place of
// "proto". Every NimbusAPI client and server dials/serves with
// grpc.CallContentSubtype("json")/grpc.ForceServerCodec so both ends
// agree to exchange JSON-encoded rpcmsg structs over the same HTTP/2
// framing protobuf normally uses.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcmsg: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcmsg: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
