package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"crewfleet.hub/internal/core/ports"
	"crewfleet.hub/internal/core/services"
)

type Options struct {
	ServiceName   string
	EnableMetrics bool
	// Auditor serves the audit listing. Nil disables it.
	Auditor ports.ActionAuditor
}

type Server struct {
	router    *chi.Mux
	registry  *services.ServiceRegistry
	forwarder *services.Forwarder
	dashboard *services.DashboardService
	healthSvc *services.HealthService
	hub       *Hub
	opts      Options
	logger    *slog.Logger
}

func NewServer(
	registry *services.ServiceRegistry,
	forwarder *services.Forwarder,
	dashboard *services.DashboardService,
	healthSvc *services.HealthService,
	hub *Hub,
	opts Options,
	logger *slog.Logger,
) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "crewfleet-manager"
	}
	s := &Server{
		router:    chi.NewRouter(),
		registry:  registry,
		forwarder: forwarder,
		dashboard: dashboard,
		healthSvc: healthSvc,
		hub:       hub,
		opts:      opts,
		logger:    logger.With("component", "http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	if s.opts.EnableMetrics {
		s.router.Use(MetricsMiddleware)
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.opts.EnableMetrics {
		s.router.Handle("/metrics", MetricsHandler())
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)

	s.router.Route("/api/agent-services", func(r chi.Router) {
		r.Get("/", s.handleListServices)
		r.Post("/register", s.handleRegister)
		r.Post("/unregister", s.handleUnregister)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/{id}/execute", s.handleExecute)
		r.Post("/{id}/action", s.handleServiceAction)
		r.Get("/{id}/logs", s.handleServiceLogs)
		r.Get("/{id}/status", s.handleServiceStatus)
		r.Get("/{id}/audit", s.handleServiceAudit)
	})

	s.router.Route("/api/agents", func(r chi.Router) {
		r.Get("/", s.handleListAgents)
		r.Post("/", s.handleCreateAgent)
		r.Get("/ws", s.handleWS)
		r.Get("/{id}", s.handleGetAgent)
		r.Put("/{id}", s.handleUpdateAgent)
		r.Delete("/{id}", s.handleDeleteAgent)
		r.Post("/{id}", s.handleAgentAction)
		r.Post("/{id}/action", s.handleAgentAction)
		r.Post("/{id}/tasks", s.handleAddTask)
		r.Post("/{id}/tasks/{taskId}/complete", s.handleCompleteTask)
		r.Post("/{id}/logs", s.handleLogLine)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   s.opts.ServiceName,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthSvc.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, w, r)
}
