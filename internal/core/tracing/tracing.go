package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"crewfleet.hub/internal/core/logger"
)

// Process roles, reported as the crewfleet.role resource attribute so the
// manager's forward spans and the worker's handler spans can be told apart.
const (
	RoleManager = "manager"
	RoleAgent   = "agent"
)

type Settings struct {
	ServiceName string
	Version     string
	Role        string
	// InstanceID is the agent id for workers; empty for the manager.
	InstanceID string
	Endpoint   string
}

type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Resource describes this process to the collector.
func Resource(s Settings) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(s.ServiceName),
		attribute.String("crewfleet.role", s.Role),
	}
	if s.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(s.Version))
	}
	if s.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(s.InstanceID))
	}
	return resource.NewSchemaless(attrs...)
}

// Init exports spans over OTLP/gRPC and installs W3C trace context
// propagation, which is what links a forwarded call to the worker span
// handling it. An empty endpoint leaves the global no-op provider in place.
func Init(ctx context.Context, s Settings) (ShutdownFunc, error) {
	if s.Endpoint == "" {
		logger.Info("Tracing disabled, no OTLP endpoint", "role", s.Role)
		return noopShutdown, nil
	}

	conn, err := grpc.NewClient(s.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing OTLP collector: %w", err)
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(Resource(s)),
		// Workers follow the manager's sampling decision.
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing initialized", "role", s.Role, "endpoint", s.Endpoint)
	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// HTTPTransport wraps base so outbound requests carry trace context. With no
// provider configured the wrapper is a pass-through.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

// TraceID returns the trace id carried by ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
