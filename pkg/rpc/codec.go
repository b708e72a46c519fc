// Package rpc is the inter-node gRPC wire protocol of spec.md §6: the
// QueryService a Coordinator calls on a remote node's Coordinator to
// fan a local Query out across the cluster. See query.proto for the
// message shapes this package implements by hand.
//
// Grounded on the teacher's pkg/api.Server / pkg/client.Client gRPC
// wrapper (server wraps grpc.Server, client wraps a grpc.ClientConn),
// scoped down per SPEC_FULL.md §2: no protoc-generated transport, no
// mTLS certificate provisioning (the teacher's pkg/security is out of
// scope here — see DESIGN.md) — just enough real grpc to carry
// QueryService.Query between nodes.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers and
// requests, standing in for the protobuf wire codec a protoc-generated
// service would use.
const codecName = "ajson"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)     { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
