package rpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Server hosts QueryService for inbound fan-out requests from peers.
// Grounded on pkg/api.Server's wrap-a-grpc.Server-and-expose-Start/Stop
// shape; plaintext rather than the teacher's mTLS setup, since
// certificate provisioning (pkg/security) is out of scope here (see
// DESIGN.md).
type Server struct {
	grpcServer *grpc.Server
}

// NewServer constructs a Server that dispatches Query calls to h.
func NewServer(h QueryHandler) *Server {
	s := grpc.NewServer()
	RegisterQueryServiceServer(s, h)
	return &Server{grpcServer: s}
}

// Serve blocks, accepting connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully drains in-flight RPCs and stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Dial opens a client connection to a peer's QueryService at addr.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
}
