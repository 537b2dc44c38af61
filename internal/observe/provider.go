package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the process-wide OpenTelemetry SDK.
type ProviderConfig struct {
	// ServiceName labels all exported telemetry. Defaults to "cierra".
	ServiceName string

	// ServiceVersion is stamped onto the telemetry resource next to the name.
	ServiceVersion string

	// MetricsAddr, when set, starts an HTTP listener serving the Prometheus
	// scrape endpoint at /metrics.
	MetricsAddr string

	// TraceExporter receives finished spans. Leaving it nil keeps spans
	// in-process only, which suits tests and metrics-only deployments;
	// production deployments plug in an OTLP exporter here.
	TraceExporter sdktrace.SpanExporter
}

// shutdownGroup collects provider teardown functions and runs them in order,
// joining their errors.
type shutdownGroup []func(context.Context) error

func (g shutdownGroup) shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range g {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitProvider stands up the global OTel meter and tracer providers. Metrics
// flow through a Prometheus exporter, scraped via MetricsAddr when one is
// given; spans go to TraceExporter when one is given. The returned function
// tears everything down, call it in a defer from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cierra"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var cleanup shutdownGroup

	exporter, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)
	cleanup = append(cleanup, mp.Shutdown)

	if cfg.MetricsAddr != "" {
		cleanup = append(cleanup, serveMetrics(cfg.MetricsAddr))
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	cleanup = append(cleanup, tp.Shutdown)

	return cleanup.shutdown, nil
}

// serveMetrics starts the scrape listener in the background and returns its
// shutdown function.
func serveMetrics(addr string) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics endpoint failed", "err", err)
		}
	}()
	return srv.Shutdown
}
