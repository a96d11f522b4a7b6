package rpc

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/roomchat/internal/chat"
	"github.com/cory-johannsen/roomchat/internal/config"
)

// Server hosts the chat and health services on one gRPC listener.
type Server struct {
	cfg     config.RPCConfig
	chat    *ChatService
	health  *health.Server
	grpc    *grpc.Server
	logger  *zap.Logger
	mu      sync.Mutex
	addr    net.Addr
	stopped bool
}

// NewServer creates a gRPC server for svc.
//
// Precondition: svc and logger must be non-nil.
// Postcondition: Returns a Server ready for ListenAndServe or Serve.
func NewServer(cfg config.RPCConfig, svc *chat.Service, logger *zap.Logger) *Server {
	chatSvc := NewChatService(svc, cfg.OutboxSize, logger)
	healthSrv := health.NewServer()

	gs := grpc.NewServer()
	RegisterChatServiceServer(gs, chatSvc)
	healthpb.RegisterHealthServer(gs, healthSrv)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{
		cfg:    cfg,
		chat:   chatSvc,
		health: healthSrv,
		grpc:   gs,
		logger: logger,
	}
}

// ListenAndServe listens on the configured address and serves until Stop.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	start := time.Now()
	s.mu.Lock()
	s.addr = lis.Addr()
	s.mu.Unlock()

	s.logger.Info("gRPC server listening",
		zap.String("addr", lis.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// Addr returns the listening address, or empty string if not yet serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Stop marks the server NOT_SERVING, ends open Connect streams, and waits
// for in-flight calls to finish.
//
// Postcondition: Serve has returned or will return nil.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.health.Shutdown()
	s.chat.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC server stopped")
}
