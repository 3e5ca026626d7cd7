package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// TargetStdout selects the pretty-printing stdout exporter.
const TargetStdout = "stdout"

// Options selects where spans go.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Target is empty (tracing disabled), TargetStdout, or an OTLP/HTTP
	// endpoint URL.
	Target string
	// Writer receives spans for TargetStdout. Defaults to os.Stderr.
	Writer io.Writer
}

// Init configures OpenTelemetry tracing and returns the function that
// flushes and stops it. With an empty target nothing is installed.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Target == "" {
		return func(context.Context) error { return nil }, nil
	}

	// The default resource may carry a newer schema URL than semconv.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if opts.Target == TargetStdout {
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	} else {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Target))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
