// Package telemetry sets up OpenTelemetry tracing for deliveries.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/pithecene-io/dispipe/log"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// TracingConfig configures InitTracing.
type TracingConfig struct {
	// Endpoint is the OTLP/gRPC collector address (host:port).
	// Empty disables tracing.
	Endpoint string
	// Insecure disables TLS to the collector.
	Insecure bool
	// ServiceName and ServiceVersion label every span.
	ServiceName    string
	ServiceVersion string
}

// InitTracing installs a global tracer provider exporting over OTLP/gRPC.
// With no endpoint it installs nothing, and spans started through the
// global provider are no-ops.
func InitTracing(ctx context.Context, cfg TracingConfig, logger *log.Logger) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		logger.Debug("tracing disabled: no endpoint", nil)
		return func(context.Context) error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(dialCtx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing initialized", map[string]any{
		"endpoint": cfg.Endpoint,
		"service":  cfg.ServiceName,
	})

	return tp.Shutdown, nil
}
