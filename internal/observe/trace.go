package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope under which all agent spans are
// recorded.
const tracerName = "github.com/cierra-ai/cierra"

// Tracer resolves the agent tracer from the global provider. The global
// tracer delegates, so spans started before [InitProvider] runs still land
// on the real provider once it is registered.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named name, child of whatever span ctx already
// carries. End it with span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID, which doubles as the request
// correlation identifier surfaced in logs and response headers. Empty when
// ctx carries no span with a valid trace ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger binds the default logger to the trace_id and span_id in ctx, so
// per-turn log lines join up with their trace. Without an active span it
// returns the plain default logger.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
