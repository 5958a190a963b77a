package grpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"crewfleet.hub/internal/core/domain"
)

type registryLister interface {
	List() []domain.RegisteredService
}

// RegistryHealth mirrors registry liveness into the standard gRPC health
// service: each registered agent id is a health "service" that is SERVING
// while registered and NOT_SERVING once it drops out. The empty service
// name reports the manager itself.
type RegistryHealth struct {
	registry registryLister
	server   *health.Server
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

func NewRegistryHealth(registry registryLister, logger *slog.Logger) *RegistryHealth {
	h := &RegistryHealth{
		registry: registry,
		server:   health.NewServer(),
		logger:   logger.With("component", "grpc-health"),
		known:    make(map[string]bool),
	}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return h
}

// Server returns the health server to register on a grpc.Server.
func (h *RegistryHealth) Server() *health.Server {
	return h.server
}

// Sync publishes the current registry contents.
func (h *RegistryHealth) Sync() {
	current := h.registry.List()

	h.mu.Lock()
	defer h.mu.Unlock()

	live := make(map[string]bool, len(current))
	for _, s := range current {
		live[s.ID] = true
		if !h.known[s.ID] {
			h.logger.Debug("agent service serving", "agent_id", s.ID)
		}
		h.server.SetServingStatus(s.ID, healthpb.HealthCheckResponse_SERVING)
	}
	for id := range h.known {
		if !live[id] {
			h.server.SetServingStatus(id, healthpb.HealthCheckResponse_NOT_SERVING)
			h.logger.Debug("agent service not serving", "agent_id", id)
		}
	}
	for id := range live {
		h.known[id] = true
	}
}

// Run syncs every interval until ctx is cancelled, then marks everything
// NOT_SERVING.
func (h *RegistryHealth) Run(ctx context.Context, interval time.Duration) error {
	h.Sync()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return nil
		case <-ticker.C:
			h.Sync()
		}
	}
}
