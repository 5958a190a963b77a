package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server exposes registry liveness over the gRPC health protocol so load
// balancers and probes can watch individual agents.
type Server struct {
	grpc   *grpc.Server
	health *RegistryHealth
	logger *slog.Logger
}

func NewServer(registry registryLister, logger *slog.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: NewRegistryHealth(registry, logger),
		logger: logger.With("component", "grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health.Server())
	reflection.Register(s.grpc)
	return s
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, syncInterval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go s.health.Run(ctx, syncInterval)
	go func() {
		<-ctx.Done()
		s.logger.Info("gRPC server shutting down")
		s.grpc.GracefulStop()
	}()

	s.logger.Info("gRPC server listening", "addr", addr)
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
