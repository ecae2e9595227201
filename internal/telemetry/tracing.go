// Package telemetry wires OpenTelemetry span tracing for the brain
// pipeline and HTTP health endpoints, grounded on the teacher's
// telemetry.OTelProvider (the same otel/sdk/trace TracerProvider setup
// and batched-exporter shutdown pattern), adapted to use the
// gRPC/stdout exporters the teacher's go.mod already pulls in rather
// than its HTTP exporter, since ORION has no requirement to minimize
// binary size the way the teacher's comments cite for that choice.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns ORION's tracer provider and exposes a tracer for
// span-wrapping pipeline stages.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	shutdownOnce   sync.Once
}

// Options configures a Provider.
type Options struct {
	ServiceName string
	// OTLPEndpoint, if non-empty, exports spans via OTLP/gRPC to this
	// collector address. Empty means export to stdout, useful for
	// local development without a collector running.
	OTLPEndpoint string
}

// NewProvider builds a Provider. A nil or zero-value Options yields a
// stdout-exporting provider.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "orion"
	}

	exporter, err := newExporter(ctx, opts.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(opts.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracerProvider: tp,
		tracer:         tp.Tracer(opts.ServiceName),
	}, nil
}

func newExporter(ctx context.Context, otlpEndpoint string) (sdktrace.SpanExporter, error) {
	if otlpEndpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(otlpEndpoint), otlptracegrpc.WithInsecure())
}

// StartSpan starts a span named name, the same shape as the teacher's
// core.Telemetry.StartSpan.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// InstrumentHandler wraps an HTTP handler with automatic span creation
// per request, the same otelhttp.NewHandler call the teacher's
// telemetry.HTTPMiddleware makes, so every binary's /health and /stats
// endpoints are traced without hand-written span plumbing.
func InstrumentHandler(handler http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(handler, operation)
}

// Shutdown flushes and stops the exporter. Safe to call more than
// once.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		err = p.tracerProvider.Shutdown(ctx)
	})
	return err
}
