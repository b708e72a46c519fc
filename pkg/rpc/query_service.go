package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// QueryRequest is the wire shape of query.proto's QueryRequest.
//
// SenderNodeID, Nonce, and Signature carry spec.md §6's "all messages
// are authenticated with node signatures" and "every inter-node RPC
// carries a unique nonce" requirements: SenderNodeID+Nonce+Signature
// let the receiving node's pkg/byzantine.Tolerance run the same
// signature-check-plus-replay-detection pass (§4.H step 1-3) it runs
// for consensus traffic. All three are empty on a request from a
// coordinator with no Signer configured (single-node/test mode), in
// which case the receiving handler skips validation rather than
// rejecting every unsigned request outright.
type QueryRequest struct {
	Collection   string `json:"collection"`
	FilterJSON   []byte `json:"filter_json"`
	SenderNodeID string `json:"sender_node_id,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Signature    []byte `json:"signature,omitempty"`
}

// QueryResponse is the wire shape of query.proto's QueryResponse.
type QueryResponse struct {
	Records [][]byte `json:"records"`
}

// QueryHandler is implemented by whatever answers an inbound Query RPC
// against this node's locally-held shards — in practice,
// pkg/coordinator.Coordinator.
type QueryHandler interface {
	Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error)
}

const serviceName = "aerolithdb.rpc.QueryService"
const queryMethod = "/" + serviceName + "/Query"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*QueryHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler:    queryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/rpc/query.proto",
}

func queryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(QueryRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryHandler).Query(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: queryMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryHandler).Query(ctx, req.(*QueryRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// RegisterQueryServiceServer registers h as the QueryService
// implementation on s.
func RegisterQueryServiceServer(s *grpc.Server, h QueryHandler) {
	s.RegisterService(&serviceDesc, h)
}

// QueryServiceClient is the client stub for QueryService.
type QueryServiceClient interface {
	Query(ctx context.Context, req *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error)
}

type queryServiceClient struct {
	cc *grpc.ClientConn
}

// NewQueryServiceClient wraps an established connection as a
// QueryServiceClient.
func NewQueryServiceClient(cc *grpc.ClientConn) QueryServiceClient {
	return &queryServiceClient{cc: cc}
}

func (c *queryServiceClient) Query(ctx context.Context, req *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error) {
	out := new(QueryResponse)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, queryMethod, req, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}
