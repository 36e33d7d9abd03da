package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sheetgenai"

// StartEvaluateSpan starts a span for a cell evaluation request.
func StartEvaluateSpan(ctx context.Context, row, column int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "evaluate",
		trace.WithAttributes(
			attribute.Int("cell.row", row),
			attribute.Int("cell.column", column),
		),
	)
}

// StartWindowSpan starts a span for a drain window.
func StartWindowSpan(ctx context.Context, windowID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "window",
		trace.WithAttributes(
			attribute.String("window.id", windowID),
		),
	)
}

// StartRemoteCallSpan starts a span for a model endpoint call.
func StartRemoteCallSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "remote_call",
		trace.WithAttributes(
			attribute.String("model.name", model),
		),
	)
}
