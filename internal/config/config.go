// Package config provides the configuration schema, loader, and provider
// registry for the conversational sales agent.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the agent process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog converts l to the [slog.Level] it names. Unrecognised values map to
// Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the log handler encoding.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// StoreDriver selects the session store backend.
type StoreDriver string

const (
	// StoreMemory keeps all sessions and events in process memory.
	StoreMemory StoreDriver = "memory"

	// StorePostgres persists sessions and events through pgx.
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	return d == StoreMemory || d == StorePostgres
}

// TrackingSink selects where telemetry events are written.
type TrackingSink string

const (
	// SinkStore appends telemetry to the session store's event log, which
	// is what the aggregator, drift detector, and retrainer read back.
	SinkStore TrackingSink = "store"

	// SinkFile appends telemetry as JSON lines to tracking.path in
	// addition to the session store.
	SinkFile TrackingSink = "file"
)

// IsValid reports whether s is a recognised tracking sink.
func (s TrackingSink) IsValid() bool {
	return s == SinkStore || s == SinkFile
}

// Config is the root configuration structure for the agent.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Logging      LoggingConfig             `yaml:"logging"`
	Store        StoreConfig               `yaml:"store"`
	Tracking     TrackingConfig            `yaml:"tracking"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	LLM          LLMConfig                 `yaml:"llm"`
	Voice        VoiceConfig               `yaml:"voice"`
	Catalog      CatalogConfig             `yaml:"catalog"`
	Cache        map[string]CacheEntry     `yaml:"cache"`
	Breaker      map[string]BreakerEntry   `yaml:"breaker"`
	Bandit       map[string]BanditEntry    `yaml:"bandit"`
	Predictor    map[string]PredictorEntry `yaml:"predictor"`
	Drift        DriftConfig               `yaml:"drift"`
	Retrain      RetrainConfig             `yaml:"retrain"`
	Observe      ObserveConfig             `yaml:"observe"`
}

// LoggingConfig holds log verbosity and encoding settings.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// StoreConfig selects and parameterises the session store backend.
type StoreConfig struct {
	Driver   StoreDriver    `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds connection settings for the postgres store.
type PostgresConfig struct {
	// URL is the pgx connection string. Secrets are best passed by
	// reference, e.g. "postgres://cierra:${CIERRA_PG_PASSWORD}@db/cierra".
	URL string `yaml:"url"`

	// MaxConns caps the connection pool size. Zero uses the pgx default.
	MaxConns int `yaml:"max_conns"`
}

// TrackingConfig selects the telemetry sink.
type TrackingConfig struct {
	Sink TrackingSink `yaml:"sink"`

	// Path is the JSONL file the file sink appends to. Required when
	// Sink is [SinkFile].
	Path string `yaml:"path"`
}

// OrchestratorConfig holds the per-message pipeline budgets. Zero values
// fall back to the orchestrator package defaults.
type OrchestratorConfig struct {
	// RequestDeadlineMS is the global per-message deadline.
	RequestDeadlineMS int `yaml:"request_deadline_ms"`

	// StageDeadlineMS bounds each analyzer and predictor call.
	StageDeadlineMS int `yaml:"stage_deadline_ms"`

	// FanInBarrierMS is the cutoff for the parallel enrichment stage;
	// stages still in flight at the barrier are replaced by fallbacks.
	FanInBarrierMS int `yaml:"fanin_barrier_ms"`

	// MaxInFlight caps concurrently processed messages. Negative
	// disables admission control.
	MaxInFlight int `yaml:"max_in_flight"`

	// MessageTokenCap truncates inbound messages to this many estimated
	// tokens.
	MessageTokenCap int `yaml:"message_token_cap"`

	// SessionIdleTimeoutS is how long a session may sit without activity
	// before the reaper ends it as abandoned.
	SessionIdleTimeoutS int `yaml:"session_idle_timeout_s"`
}

// RequestDeadline returns the per-message deadline as a [time.Duration].
func (c OrchestratorConfig) RequestDeadline() time.Duration {
	return time.Duration(c.RequestDeadlineMS) * time.Millisecond
}

// StageDeadline returns the per-stage deadline as a [time.Duration].
func (c OrchestratorConfig) StageDeadline() time.Duration {
	return time.Duration(c.StageDeadlineMS) * time.Millisecond
}

// FanInBarrier returns the enrichment barrier as a [time.Duration].
func (c OrchestratorConfig) FanInBarrier() time.Duration {
	return time.Duration(c.FanInBarrierMS) * time.Millisecond
}

// SessionIdleTimeout returns the idle cutoff as a [time.Duration].
func (c OrchestratorConfig) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutS) * time.Second
}

// LLMConfig holds the completion provider chain and sampling parameters.
type LLMConfig struct {
	// Provider is the primary completion backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallback, when named, is tried after the primary provider fails or
	// its breaker opens.
	Fallback ProviderEntry `yaml:"fallback"`

	// Persona overrides the built-in system-prompt persona.
	Persona string `yaml:"persona"`

	// Params overrides sampling per conversation phase. Keys are the
	// lowercased phase names plus "greeting" for the first exchange.
	Params map[string]SamplingParams `yaml:"params"`
}

// SamplingParams tunes one phase's completion call.
type SamplingParams struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// VoiceConfig enables the optional speech synthesis path.
type VoiceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Provider ProviderEntry `yaml:"provider"`

	// VoiceID selects the synthesis voice within the provider.
	VoiceID string `yaml:"voice_id"`
}

// CatalogConfig points at the on-disk catalogue files that seed the
// empathy composer and the static knowledge cache.
type CatalogConfig struct {
	// TemplatesPath is the empathy template catalogue. Empty uses the
	// built-in defaults.
	TemplatesPath string `yaml:"templates_path"`

	// KnowledgePath is the product/tier fact sheet loaded into the
	// static knowledge cache at startup.
	KnowledgePath string `yaml:"knowledge_path"`
}

// CacheEntry overrides one cache namespace's entry lifetime.
type CacheEntry struct {
	TTLSeconds int `yaml:"ttl_s"`
}

// TTL returns the entry lifetime as a [time.Duration].
func (e CacheEntry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// BreakerEntry overrides one dependency's circuit breaker settings. Zero
// values fall back to the resilience package defaults.
type BreakerEntry struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int `yaml:"threshold"`

	// WindowS bounds how old a failure streak may be and still count.
	WindowS int `yaml:"window_s"`

	// RecoveryS is how long the breaker stays open before a half-open
	// probe.
	RecoveryS int `yaml:"recovery_s"`

	// MaxRetries bounds retry attempts against the dependency.
	MaxRetries int `yaml:"max_retries"`
}

// Window returns the failure window as a [time.Duration].
func (e BreakerEntry) Window() time.Duration {
	return time.Duration(e.WindowS) * time.Second
}

// Recovery returns the open-state timeout as a [time.Duration].
func (e BreakerEntry) Recovery() time.Duration {
	return time.Duration(e.RecoveryS) * time.Second
}

// BanditEntry overrides one experiment's settings.
type BanditEntry struct {
	// MinSampleSize is the per-variant impression count required before
	// a winner may be declared.
	MinSampleSize int `yaml:"min_sample_size"`

	// ConfidenceLevel is the significance level for winner declaration,
	// e.g. 0.95.
	ConfidenceLevel float64 `yaml:"confidence_level"`

	// AutoDeploy routes all traffic to a declared winner. Unset keeps
	// the experiment's built-in setting.
	AutoDeploy *bool `yaml:"auto_deploy"`
}

// PredictorEntry toggles one model. Setting enabled to false forces the
// rule-based fallback path permanently.
type PredictorEntry struct {
	Enabled *bool `yaml:"enabled"`
}

// DriftConfig tunes the drift detection loop.
type DriftConfig struct {
	// CheckIntervalS is the scheduler cadence.
	CheckIntervalS int `yaml:"check_interval_s"`

	// WindowHours is the rolling telemetry window drift is judged over.
	WindowHours int `yaml:"window_hours"`

	// MinSamples is the smallest window worth judging.
	MinSamples int `yaml:"min_samples"`

	// PSIThreshold is the population stability index at which drift is
	// rated high and retraining is requested. Zero keeps the built-in
	// calibration.
	PSIThreshold float64 `yaml:"psi_threshold"`

	// AccuracyDropPP is the absolute accuracy loss rated high; 0.05
	// means five percentage points.
	AccuracyDropPP float64 `yaml:"accuracy_drop_pp"`
}

// CheckInterval returns the scheduler cadence as a [time.Duration].
func (c DriftConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalS) * time.Second
}

// Window returns the telemetry window as a [time.Duration].
func (c DriftConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// RetrainConfig tunes the retraining worker.
type RetrainConfig struct {
	// QueueSize bounds jobs waiting for the worker.
	QueueSize int `yaml:"queue_size"`

	// HoldoutFraction is the share of window samples withheld from
	// fitting and used to gate promotion.
	HoldoutFraction float64 `yaml:"holdout_fraction"`

	// MinSamples is the smallest training window a refit accepts.
	MinSamples int `yaml:"min_samples"`
}

// ObserveConfig holds the listen addresses for the operational surfaces.
type ObserveConfig struct {
	// MetricsAddr serves the Prometheus scrape endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// HealthAddr serves the liveness and readiness probes.
	HealthAddr string `yaml:"health_addr"`
}

// ProviderEntry identifies and parameterises one external provider.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g.,
	// "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g.,
	// "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered
	// by the standard fields above. Values may be strings, numbers,
	// booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// DefaultConfig returns the baseline configuration. [LoadFromReader]
// decodes the YAML document over it, so keys absent from the file keep
// these values.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: LogInfo, Format: LogText},
		Store:   StoreConfig{Driver: StoreMemory},
		Tracking: TrackingConfig{
			Sink: SinkStore,
		},
		Orchestrator: OrchestratorConfig{
			RequestDeadlineMS:   8000,
			StageDeadlineMS:     2000,
			FanInBarrierMS:      2500,
			MaxInFlight:         256,
			MessageTokenCap:     512,
			SessionIdleTimeoutS: 1800,
		},
		LLM: LLMConfig{
			Provider: ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		Drift: DriftConfig{
			CheckIntervalS: 3600,
			WindowHours:    24,
			MinSamples:     50,
		},
		Retrain: RetrainConfig{
			QueueSize:       16,
			HoldoutFraction: 0.2,
			MinSamples:      50,
		},
		Observe: ObserveConfig{
			MetricsAddr: ":9464",
			HealthAddr:  ":8081",
		},
	}
}
