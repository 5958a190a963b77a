package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Latency   string       `json:"latency,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

// Pinger is implemented by event sinks that can check their connection.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

type HealthService struct {
	registry    *ServiceRegistry
	subscribers func() int
	db          *gorm.DB
	sinks       []Pinger
	version     string
}

func NewHealthService(registry *ServiceRegistry, subscribers func() int, version string) *HealthService {
	if version == "" {
		version = "0.0.1"
	}
	return &HealthService{
		registry:    registry,
		subscribers: subscribers,
		version:     version,
	}
}

// WithDatabase adds the audit database to the report.
func (s *HealthService) WithDatabase(db *gorm.DB) *HealthService {
	s.db = db
	return s
}

// WithSinks adds event sinks to the report. A failing sink degrades the
// manager but does not make it unhealthy.
func (s *HealthService) WithSinks(sinks ...Pinger) *HealthService {
	s.sinks = append(s.sinks, sinks...)
	return s
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     HealthStatusHealthy,
		Version:    s.version,
		CheckedAt:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	report.Components["registry"] = ComponentHealth{
		Status:    HealthStatusHealthy,
		Message:   fmt.Sprintf("%d agent services registered", s.registry.Count()),
		CheckedAt: time.Now(),
	}

	if s.subscribers != nil {
		report.Components["websocket_hub"] = ComponentHealth{
			Status:    HealthStatusHealthy,
			Message:   fmt.Sprintf("%d subscribers connected", s.subscribers()),
			CheckedAt: time.Now(),
		}
	}

	if s.db != nil {
		dbHealth := s.checkDatabase(ctx)
		report.Components["audit_database"] = dbHealth
		if dbHealth.Status != HealthStatusHealthy {
			report.Status = HealthStatusDegraded
		}
	}

	for _, sink := range s.sinks {
		h := s.checkSink(ctx, sink)
		report.Components["sink_"+sink.Name()] = h
		if h.Status != HealthStatusHealthy && report.Status == HealthStatusHealthy {
			report.Status = HealthStatusDegraded
		}
	}

	return report
}

func (s *HealthService) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	sqlDB, err := s.db.DB()
	if err != nil {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("Failed to get database instance: %v", err),
			CheckedAt: time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("Database ping failed: %v", err),
			Latency:   time.Since(start).String(),
			CheckedAt: time.Now(),
		}
	}

	return ComponentHealth{
		Status:    HealthStatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
}

func (s *HealthService) checkSink(ctx context.Context, sink Pinger) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sink.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("%s ping failed: %v", sink.Name(), err),
			Latency:   time.Since(start).String(),
			CheckedAt: time.Now(),
		}
	}

	return ComponentHealth{
		Status:    HealthStatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
}

// SimpleHealthCheck returns a simple health status for load balancers
func (s *HealthService) SimpleHealthCheck(ctx context.Context) (string, int) {
	report := s.CheckHealth(ctx)

	switch report.Status {
	case HealthStatusHealthy:
		return "ok", http.StatusOK
	case HealthStatusDegraded:
		return "degraded", http.StatusOK
	default:
		return "unhealthy", http.StatusServiceUnavailable
	}
}
