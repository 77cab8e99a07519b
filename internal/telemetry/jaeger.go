package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

/*
LEARNING: TRACING A LOCAL ENGINE

The canvas host is a single process, but a synthesis still crosses several
boundaries: the HTTP or WebSocket command, the engine, the circuit breaker
and the remote chat completion. Each of those opens a span, so one trace in
Jaeger shows where a slow "Colliding Concepts..." placeholder spent its time.

  UI → HTTP span → canvas.synthesis span → openai.chat_completion span

If no collector is reachable the exporter just drops batches; the engine
never waits on tracing.
*/

// InitJaeger installs a Jaeger-backed tracer provider as the global one.
// Returns a cleanup function that flushes spans on shutdown.
func InitJaeger(serviceName, jaegerEndpoint string, logger *zap.Logger) (func(context.Context) error, error) {
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	// Merging with resource.Default() fails when the sdk's schema URL
	// differs from this semconv version, so the resource stands alone.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("1.0.0"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		// A single user produces few spans; keep them all.
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	logger.Info("✓ Jaeger tracing initialized", zap.String("endpoint", jaegerEndpoint))
	return tp.Shutdown, nil
}
