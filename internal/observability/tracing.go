// Package observability provides OpenTelemetry tracing for semmed runs.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/semmed/internal/config"
)

const (
	// TracerName is the instrumentation scope of all semmed spans.
	TracerName = "github.com/efebarandurmaz/semmed"

	// ServiceName is reported in the trace resource.
	ServiceName = "semmed"
)

// Version is stamped into the trace resource.
var Version = "0.1.0"

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg config.TracingConfig) (*TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Sampler maps a sample rate onto a parent-based sampler.
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds recorded as semmed.span.kind.
const (
	SpanKindRun       = "run"
	SpanKindTransform = "transform"
	SpanKindSink      = "sink"
	SpanKindCache     = "cache"
)

// StartRunSpan starts the root span of a load or prebuild run.
func StartRunSpan(ctx context.Context, command, source string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "semmed."+command,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("semmed.span.kind", SpanKindRun),
			attribute.String("semmed.source", source),
		),
	)
}

// RecordRunResult records the final counts on a run span.
func RecordRunResult(span trace.Span, rows, documents int, cacheHit bool) {
	span.SetAttributes(
		attribute.Int("semmed.rows", rows),
		attribute.Int("semmed.documents", documents),
		attribute.Bool("semmed.cache_hit", cacheHit),
	)
}

// StartTransformSpan starts a span for transforming one batch of rows.
func StartTransformSpan(ctx context.Context, batch, rows int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "transform.batch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("semmed.span.kind", SpanKindTransform),
			attribute.Int("transform.batch", batch),
			attribute.Int("transform.rows", rows),
		),
	)
}

// StartSinkSpan starts a span for one sink write.
func StartSinkSpan(ctx context.Context, kind string, documents int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "sink."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("semmed.span.kind", SpanKindSink),
			attribute.String("sink.kind", kind),
			attribute.Int("sink.documents", documents),
		),
	)
}

// StartCacheSpan starts a span for a cache replay or commit.
func StartCacheSpan(ctx context.Context, op, dir string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("semmed.span.kind", SpanKindCache),
			attribute.String("cache.dir", dir),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
