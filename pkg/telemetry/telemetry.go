package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"squadbot/pkg/config"
)

const defaultServiceName = "squadbot"

// ShutdownFunc flushes buffered spans and stops the exporter.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider that exports over OTLP/HTTP.
// With no endpoint configured it leaves the no-op provider in place.
func Setup(ctx context.Context, cfg config.TelemetryConfig, log *slog.Logger) (ShutdownFunc, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "telemetry")

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		log.Debug("Trace export disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName(cfg)),
		)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("Trace export error", "error", err)
	}))

	log.Info("Trace export enabled", "endpoint", endpoint, "service_name", serviceName(cfg))

	return provider.Shutdown, nil
}

func serviceName(cfg config.TelemetryConfig) string {
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		return name
	}

	return defaultServiceName
}

// sampler samples every trace unless a ratio in (0,1) is configured.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
