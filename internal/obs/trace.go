package obs

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gatehouse.dev"

// TracingConfig selects the span exporter. Exporter is one of otlp, stdout or none.
type TracingConfig struct {
	ServiceName string
	Version     string
	Exporter    string
	SampleRatio float64
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTracing installs an SDK tracer provider as the global provider and
// returns its shutdown func. With exporter "none" nothing is installed and
// spans stay no-ops.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return noop, nil
	}
	exp, err := newSpanExporter(ctx, cfg.Exporter, os.Stdout)
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return noop, fmt.Errorf("trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, name string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "otlp":
		// Endpoint and headers come from the standard OTEL_EXPORTER_OTLP_* env vars.
		return otlptracegrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", name)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}
