package control

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server hosts the MissionControl service.
type Server struct {
	addr   string
	grpc   *grpc.Server
	logger *zap.Logger
}

// NewServer builds a gRPC server with token authentication and svc registered.
//
// Precondition: svc and logger must be non-nil.
func NewServer(addr, tokenHash string, svc MissionControlServer, logger *zap.Logger) *Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(tokenHash, logger)))
	RegisterMissionControlServer(gs, svc)
	if tokenHash == "" {
		logger.Warn("control service has no token hash; calls are unauthenticated")
	}
	return &Server{addr: addr, grpc: gs, logger: logger}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("control service listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Stop drains in-flight calls and stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
