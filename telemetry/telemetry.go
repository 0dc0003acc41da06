// Package telemetry wires OpenTelemetry tracing for scrape runs.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects where spans go. An empty Endpoint keeps spans in
// process, which still gives every run a trace id in its logs.
type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	Headers     map[string]string
}

// Telemetry owns the installed tracer provider.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
}

// Shutdown flushes pending spans.
func (t Telemetry) Shutdown(ctx context.Context) error {
	if t.TracerProvider == nil {
		return nil
	}
	return t.TracerProvider.Shutdown(ctx)
}

// Setup installs a global tracer provider. Extra options are appended to
// the provider's, which tests use to attach span recorders.
func Setup(ctx context.Context, cfg Config, extra ...trace.TracerProviderOption) (Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	r, err := newResource(cfg)
	if err != nil {
		return Telemetry{}, err
	}

	opts := []trace.TracerProviderOption{trace.WithResource(r)}
	if cfg.Endpoint != "" {
		exporter, err := newExporter(ctx, cfg)
		if err != nil {
			return Telemetry{}, err
		}
		opts = append(opts, trace.WithBatcher(exporter))
	}
	opts = append(opts, extra...)

	provider := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return Telemetry{TracerProvider: provider}, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
}

func newExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	slog.Info("tracer export initialized",
		slog.String("type", "http"),
		slog.String("endpoint", cfg.Endpoint),
		slog.Bool("headers", len(cfg.Headers) > 0),
	)
	return otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
		otlptracehttp.WithHeaders(cfg.Headers),
	)
}
