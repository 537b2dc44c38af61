// Package observe carries the agent's observability surface: OpenTelemetry
// metrics and traces, plus the HTTP middleware that stitches both into the
// operational endpoints.
//
// All instruments go through the OTel Metrics API; [InitProvider] bridges
// them to a Prometheus /metrics endpoint for scraping. Production code
// records against the shared [DefaultMetrics] instance. Tests build their
// own via [NewMetrics] with a private [metric.MeterProvider] so runs stay
// isolated from each other.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all agent metrics.
const meterName = "github.com/cierra-ai/cierra"

// Metrics bundles every instrument the agent records. Each field is an
// OTel instrument and therefore safe for concurrent use on its own.
type Metrics struct {
	// Latency histograms.

	// RequestDuration tracks end-to-end message processing latency.
	// Use with attribute.String("operation", ...).
	RequestDuration metric.Float64Histogram

	// StageDuration tracks per-stage pipeline latency. Use with
	// attribute.String("stage", ...): emotion, tier, the model ids,
	// llm, commit.
	StageDuration metric.Float64Histogram

	// LLMDuration tracks completion provider latency. Use with
	// attribute.String("source", ...): llm, cache, canned.
	LLMDuration metric.Float64Histogram

	// Counters.

	// LLMTokens counts tokens consumed by completion calls. Use with
	// attribute.String("source", ...).
	LLMTokens metric.Int64Counter

	// CacheHits and CacheMisses count lookups per namespace. Use with
	// attribute.String("namespace", ...).
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("dependency", ...), attribute.String("from", ...),
	// attribute.String("to", ...).
	BreakerTransitions metric.Int64Counter

	// CommitConflicts counts optimistic save retries. Use with
	// attribute.String("operation", ...).
	CommitConflicts metric.Int64Counter

	// BanditAssignments counts variant assignments. Use with
	// attribute.String("experiment", ...), attribute.String("variant", ...).
	BanditAssignments metric.Int64Counter

	// BanditRewards accumulates reward mass per variant. Use with
	// attribute.String("experiment", ...), attribute.String("variant", ...).
	BanditRewards metric.Float64Counter

	// AdmissionRejections counts messages refused at the concurrency gate.
	AdmissionRejections metric.Int64Counter

	// Reply quality distribution.

	// EmpathyScore tracks the composed reply score on its 0-10 scale.
	EmpathyScore metric.Float64Histogram

	// Gauges.

	// DriftSeverity reports the latest drift check's severity rank per
	// model: none 0, low 1, medium 2, high 3, critical 4. Use with
	// attribute.String("model", ...).
	DriftSeverity metric.Int64Gauge

	// ActiveSessions tracks the number of live conversations.
	ActiveSessions metric.Int64UpDownCounter

	// Middleware.

	// HTTPRequestDuration tracks HTTP request processing time on the
	// operational endpoints. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets sets histogram boundaries (in seconds) around the pipeline
// budgets: stage work lands near 0.4s, whole turns near 1.5s.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.5, 3, 6,
}

// scoreBuckets covers the empathy score scale.
var scoreBuckets = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

// NewMetrics registers every instrument on a meter from the given
// [metric.MeterProvider] and returns the populated [Metrics]. The first
// instrument that fails to register aborts construction.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RequestDuration, err = m.Float64Histogram("cierra.request.duration",
		metric.WithDescription("End-to-end message processing latency by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("cierra.stage.duration",
		metric.WithDescription("Pipeline stage latency by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("cierra.llm.duration",
		metric.WithDescription("Completion latency by source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmpathyScore, err = m.Float64Histogram("cierra.empathy.score",
		metric.WithDescription("Distribution of composed reply scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.LLMTokens, err = m.Int64Counter("cierra.llm.tokens",
		metric.WithDescription("Total completion tokens consumed by source."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("cierra.cache.hits",
		metric.WithDescription("Cache lookups served per namespace."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("cierra.cache.misses",
		metric.WithDescription("Cache lookups missed per namespace."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("cierra.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by dependency."),
	); err != nil {
		return nil, err
	}
	if met.CommitConflicts, err = m.Int64Counter("cierra.commit.conflicts",
		metric.WithDescription("Optimistic save conflicts by operation."),
	); err != nil {
		return nil, err
	}
	if met.BanditAssignments, err = m.Int64Counter("cierra.bandit.assignments",
		metric.WithDescription("Variant assignments by experiment and variant."),
	); err != nil {
		return nil, err
	}
	if met.BanditRewards, err = m.Float64Counter("cierra.bandit.rewards",
		metric.WithDescription("Reward mass credited by experiment and variant."),
	); err != nil {
		return nil, err
	}
	if met.AdmissionRejections, err = m.Int64Counter("cierra.admission.rejections",
		metric.WithDescription("Messages refused at the concurrency gate."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.DriftSeverity, err = m.Int64Gauge("cierra.drift.severity",
		metric.WithDescription("Latest drift severity rank per model (none 0 to critical 4)."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cierra.active_sessions",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}

	// The middleware's histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cierra.http.request.duration",
		metric.WithDescription("Operational endpoint latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics lazily builds the shared [Metrics] instance against
// [otel.GetMeterProvider] and hands the same pointer to every caller.
// Instrument registration against the global provider cannot fail, so any
// error here panics.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr shortens [attribute.String] at recording sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// severityRanks orders drift severities for the gauge.
var severityRanks = map[string]int64{
	"none":     0,
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// RecordRequest records one end-to-end message processing duration.
func (m *Metrics) RecordRequest(ctx context.Context, operation string, d time.Duration) {
	m.RequestDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}

// RecordStage records one pipeline stage duration.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordLLM records one completion call: its latency and token usage,
// attributed to the source that served it.
func (m *Metrics) RecordLLM(ctx context.Context, source string, d time.Duration, tokens int) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.LLMDuration.Record(ctx, d.Seconds(), attrs)
	if tokens > 0 {
		m.LLMTokens.Add(ctx, int64(tokens), attrs)
	}
}

// RecordCacheLookup counts one cache lookup as a hit or a miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, namespace string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("namespace", namespace))
	if hit {
		m.CacheHits.Add(ctx, 1, attrs)
		return
	}
	m.CacheMisses.Add(ctx, 1, attrs)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, dependency, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("dependency", dependency),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordCommitConflict counts one optimistic save retry.
func (m *Metrics) RecordCommitConflict(ctx context.Context, operation string) {
	m.CommitConflicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}

// RecordAssignment counts one bandit variant assignment.
func (m *Metrics) RecordAssignment(ctx context.Context, experiment, variant string) {
	m.BanditAssignments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("experiment", experiment),
			attribute.String("variant", variant),
		),
	)
}

// RecordReward accumulates reward mass for a variant.
func (m *Metrics) RecordReward(ctx context.Context, experiment, variant string, reward float64) {
	m.BanditRewards.Add(ctx, reward,
		metric.WithAttributes(
			attribute.String("experiment", experiment),
			attribute.String("variant", variant),
		),
	)
}

// RecordAdmissionRejection counts one message refused at the gate.
func (m *Metrics) RecordAdmissionRejection(ctx context.Context) {
	m.AdmissionRejections.Add(ctx, 1)
}

// RecordEmpathyScore records one composed reply score.
func (m *Metrics) RecordEmpathyScore(ctx context.Context, score float64) {
	m.EmpathyScore.Record(ctx, score)
}

// SetDriftSeverity reports a drift check result for a model. Unknown
// severities are ignored.
func (m *Metrics) SetDriftSeverity(ctx context.Context, model, severity string) {
	rank, ok := severityRanks[severity]
	if !ok {
		return
	}
	m.DriftSeverity.Record(ctx, rank,
		metric.WithAttributes(attribute.String("model", model)),
	)
}

// SessionStarted increments the live conversation gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the live conversation gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
