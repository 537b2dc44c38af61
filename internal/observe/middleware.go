package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// captureWriter wraps [http.ResponseWriter] to remember the status code the
// wrapped handler wrote.
type captureWriter struct {
	http.ResponseWriter
	status int
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the operational HTTP endpoints (health probes and
// breaker snapshots): it continues any W3C trace context carried by the
// request, opens a server span, echoes the trace id in the X-Correlation-ID
// response header, and records the request duration in
// [Metrics.HTTPRequestDuration].
//
// Probes arrive every few seconds, so successful responses log at debug;
// server errors are promoted to warning.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	propagator := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()

			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r.WithContext(ctx))

			elapsed := time.Since(started)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(cw.status))

			level := slog.LevelDebug
			if cw.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			slog.LogAttrs(ctx, level, "operational request served",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", cw.status),
				slog.Duration("elapsed", elapsed),
				slog.String("trace_id", cid),
			)
		})
	}
}
