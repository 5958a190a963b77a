package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Registry metrics
	registryServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_services",
			Help: "Number of agent services currently registered",
		},
	)

	registryPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_purged_total",
			Help: "Total number of registry entries purged for missing heartbeats",
		},
	)

	// Forwarder metrics
	forwardRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_requests_total",
			Help: "Requests proxied to agent services by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Dashboard metrics
	websocketSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_subscribers",
			Help: "Number of connected dashboard WebSocket clients",
		},
	)

	dashboardActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_actions_total",
			Help: "Dashboard actions by action and result",
		},
		[]string{"action", "result"},
	)
)

// MetricsMiddleware records HTTP request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics for WebSocket upgrade requests
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetRegisteredServices sets the registry size gauge.
func SetRegisteredServices(count int) {
	registryServices.Set(float64(count))
}

// RecordPurged counts registry entries removed by the cleaner.
func RecordPurged(ids []string) {
	registryPurgedTotal.Add(float64(len(ids)))
}

// RecordForward counts one proxied request.
func RecordForward(operation, outcome string) {
	forwardRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordDashboardAction counts one dashboard action.
func RecordDashboardAction(action, result string) {
	dashboardActionsTotal.WithLabelValues(action, result).Inc()
}
