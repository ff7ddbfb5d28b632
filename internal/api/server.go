// Package api provides the gRPC status service of tradecore-trader,
// exposing the status board as snapshots and an event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"

	"tradecore/internal/status"
)

// Server hosts the gRPC listener.
type Server struct {
	addr string
	grpc *grpc.Server
	log  *slog.Logger
}

// NewServer creates a Server listening on addr and serving board.
func NewServer(addr string, board *status.Board, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default().With("component", "grpc")
	}
	gs := grpc.NewServer()
	NewStatusServer(board, log).RegisterGRPC(gs)
	return &Server{addr: addr, grpc: gs, log: log}
}

// ListenAndServe starts the listener and blocks until ctx is cancelled or
// serving fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()
	s.log.Info("grpc server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting connections and waits up to five seconds for
// in-flight calls before closing open event streams.
func (s *Server) Shutdown() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.grpc.Stop()
	}
}
