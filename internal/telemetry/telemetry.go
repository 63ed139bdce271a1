package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"signin/internal/config"
	"signin/pkg/logging"
)

// DefaultServiceName is reported as service.name when none is configured.
const DefaultServiceName = "signin"

// Shutdown flushes pending spans and releases the exporter.
type Shutdown func(context.Context) error

// Setup builds the tracer provider used for protocol request spans.
//
// Tracing is opt-in: with an empty endpoint Setup returns a no-op provider
// and registers nothing globally. Otherwise spans are batched to the OTLP/HTTP
// collector and the provider becomes the global one.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (trace.TracerProvider, Shutdown, error) {
	noopShutdown := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		return noop.NewTracerProvider(), noopShutdown, nil
	}

	opts := []otlptracehttp.Option{}
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, noopShutdown, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logging.Debug("Telemetry", "Exporting traces to %s as %s", cfg.Endpoint, serviceName)
	return tp, tp.Shutdown, nil
}
