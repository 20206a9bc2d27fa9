package tracing

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/zap"
)

// ServiceName identifies this process in exported spans
const ServiceName = "sapling-graph"

// Options configures the tracer provider
type Options struct {
	Enabled     bool
	Endpoint    string
	Environment string
	SampleRatio float64
}

// Init installs a global tracer provider. When tracing is disabled the
// returned shutdown is a no-op and the global no-op provider stays in place.
func Init(ctx context.Context, log *zap.Logger, opts Options) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
			attribute.String("deployment.environment", strings.TrimSpace(opts.Environment)),
		),
	)
	if err != nil {
		log.Warn("otel resource init failed (continuing)", zap.Error(err))
	}

	exporter, err := buildExporter(ctx, log, strings.TrimSpace(opts.Endpoint))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(opts.SampleRatio)))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("otel tracing initialized", zap.String("endpoint", opts.Endpoint))
	return tp.Shutdown, nil
}

func buildExporter(ctx context.Context, log *zap.Logger, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint != "" {
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

func sampleRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
