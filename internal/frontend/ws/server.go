// Package ws bridges browser clients to the chat service over WebSocket. Each
// text frame carries one JSON request in, and each reply or pushed message is
// one JSON text frame out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomchat/internal/chat"
	"github.com/cory-johannsen/roomchat/internal/config"
	"github.com/cory-johannsen/roomchat/internal/dispatch"
)

const (
	defaultPingInterval = 54 * time.Second
	defaultWriteTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Health is the /health response body.
type Health struct {
	Status     string            `json:"status"`
	Rooms      int               `json:"rooms"`
	Sessions   int               `json:"sessions"`
	Dispatcher *DispatcherHealth `json:"dispatcher,omitempty"`
}

// DispatcherHealth reports line-protocol worker pool load.
type DispatcherHealth struct {
	Workers int   `json:"workers"`
	Busy    int   `json:"busy"`
	Pending int   `json:"pending"`
	Handled int64 `json:"handled"`
}

// PoolStats is implemented by dispatch.Dispatcher.
type PoolStats interface {
	Stats() dispatch.Stats
}

// Server serves /ws and /health.
type Server struct {
	cfg      config.WebSocketConfig
	svc      *chat.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup

	mu      sync.Mutex
	addr    net.Addr
	pool    PoolStats
	stopped bool
}

// NewServer creates a WebSocket server over svc. Zero ping interval, write
// timeout, or message size fall back to defaults.
//
// Precondition: svc and logger must be non-nil.
// Postcondition: Returns a Server ready for ListenAndServe or Serve.
func NewServer(cfg config.WebSocketConfig, svc *chat.Service, logger *zap.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// ReportPool adds pool's load to the /health body.
func (s *Server) ReportPool(pool PoolStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = pool
}

// Handler returns the server's HTTP routes.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe listens on the configured address and serves until Stop.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(lis)
}

// Serve serves HTTP on lis until Stop.
//
// Postcondition: Returns nil after Stop, or the serve error.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.addr = lis.Addr()
	s.mu.Unlock()

	s.logger.Info("websocket server listening", zap.String("addr", lis.Addr().String()))
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
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

// Stop shuts the HTTP server down, closes every upgraded connection, and
// waits for their sessions to end.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("websocket server shutdown", zap.Error(err))
	}
	// Hijacked connections are not tracked by http.Server.
	s.cancel()
	s.conns.Wait()
	s.logger.Info("websocket server stopped")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.svc.Stats()
	body := Health{
		Status:   "ok",
		Rooms:    stats.Rooms,
		Sessions: stats.Sessions,
	}
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool != nil {
		ps := pool.Stats()
		body.Dispatcher = &DispatcherHealth{
			Workers: ps.Workers,
			Busy:    ps.Busy,
			Pending: ps.Pending,
			Handled: ps.Handled,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	newClient(conn, s.svc, s.cfg, s.logger).serve(s.ctx)
}
