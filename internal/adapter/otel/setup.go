// Package otel provides OpenTelemetry instrumentation for the service.
// Instruments are created against the otel API; until an exporter is
// configured the global no-op providers swallow them, so instrumentation
// stays free for deployments without a collector.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Swap in an OTLP exporter
// here once a collector runs next to the service.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel: using no-op providers", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
