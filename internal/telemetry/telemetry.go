// Package telemetry bootstraps OpenTelemetry tracing for the daemon:
// an OTLP/gRPC exporter feeding a batching TracerProvider installed as
// the process-wide default. Once installed, every otel.Tracer(...)
// obtained anywhere in the process (internal/runtime's CRI handlers,
// internal/switchboard's otelgrpc-wrapped client) starts producing
// real spans instead of the library's no-op default.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultCollectorAddr = "localhost:4317"

// Config describes where completed spans are shipped.
type Config struct {
	ServiceName   string
	CollectorAddr string // OTLP/gRPC collector endpoint; defaults to localhost:4317.
	Insecure      bool
}

func (c Config) endpoint() string {
	if c.CollectorAddr == "" {
		return defaultCollectorAddr
	}
	return c.CollectorAddr
}

// Init dials the configured OTLP collector and installs a
// TracerProvider as the process-wide default. The returned shutdown
// func flushes pending spans and closes the exporter; callers should
// defer it.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.endpoint())}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dial collector: %w", err)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
