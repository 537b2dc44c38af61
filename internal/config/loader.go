package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames holds the recognised provider names for each provider
// kind. [Validate] warns when a configured name falls outside the list.
var ValidProviderNames = map[string][]string{
	"llm": {
		"openai", "anthropic", "gemini", "deepseek", "mistral",
		"groq", "ollama", "llamacpp", "llamafile", "mock",
	},
	"voice": {"elevenlabs", "mock"},
}

// Component name lists used for typo warnings on the keyed override maps.
var (
	knownCacheNamespaces = []string{
		"session", "tier_decision", "prediction", "empathy_fragment",
		"static_knowledge", "idempotency", "llm_response",
	}
	knownBreakerDeps = []string{"llm", "voice", "persistence", "cache"}
	knownExperiments = []string{
		"greeting_style", "empathy_level", "price_objection_handling",
		"closing_technique",
	}
	knownModels = []string{"objection", "needs", "conversion", "next_best_action"}
	knownParams = []string{
		"greeting", "discovery", "analysis", "focused", "objection", "closing",
	}
)

// envRef matches ${VAR} references in the raw YAML document. Only the
// braced form is expanded so literal dollar signs in persona or template
// text survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes and validates a YAML config document from r.
// The document is decoded over [DefaultConfig], so absent keys keep their
// defaults, and ${VAR} references are expanded from the environment first
// so secrets such as API keys can stay out of the file. Tests feed it
// string literals directly.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references with the value of the named
// environment variable. Unset variables expand to the empty string and
// are reported once per load.
func expandEnv(raw string) string {
	var missing []string
	out := envRef.ReplaceAllStringFunc(raw, func(ref string) string {
		name := ref[2 : len(ref)-1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return val
	})
	if len(missing) > 0 {
		slog.Warn("config references unset environment variables", "vars", missing)
	}
	return out
}

// Validate checks cfg for incoherent values and reports every failure it
// finds as one joined error. Suspicious but workable values (unknown
// provider names, unused override keys) only log warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Logging
	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" && !cfg.Logging.Format.IsValid() {
		errs = append(errs, fmt.Errorf("logging.format %q is invalid; valid values: text, json", cfg.Logging.Format))
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, postgres", cfg.Store.Driver))
	}
	if cfg.Store.Driver == StorePostgres && cfg.Store.Postgres.URL == "" {
		errs = append(errs, errors.New("store.postgres.url is required when store.driver is postgres"))
	}
	if cfg.Store.Postgres.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("store.postgres.max_conns %d must not be negative", cfg.Store.Postgres.MaxConns))
	}

	// Tracking
	if cfg.Tracking.Sink != "" && !cfg.Tracking.Sink.IsValid() {
		errs = append(errs, fmt.Errorf("tracking.sink %q is invalid; valid values: store, file", cfg.Tracking.Sink))
	}
	if cfg.Tracking.Sink == SinkFile && cfg.Tracking.Path == "" {
		errs = append(errs, errors.New("tracking.path is required when tracking.sink is file"))
	}

	// Orchestrator budgets. Negative max_in_flight disables admission
	// control, so it is excluded from the sign check.
	for _, f := range []struct {
		name string
		v    int
	}{
		{"orchestrator.request_deadline_ms", cfg.Orchestrator.RequestDeadlineMS},
		{"orchestrator.stage_deadline_ms", cfg.Orchestrator.StageDeadlineMS},
		{"orchestrator.fanin_barrier_ms", cfg.Orchestrator.FanInBarrierMS},
		{"orchestrator.message_token_cap", cfg.Orchestrator.MessageTokenCap},
		{"orchestrator.session_idle_timeout_s", cfg.Orchestrator.SessionIdleTimeoutS},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.v))
		}
	}
	if cfg.Orchestrator.FanInBarrierMS > 0 && cfg.Orchestrator.RequestDeadlineMS > 0 &&
		cfg.Orchestrator.FanInBarrierMS >= cfg.Orchestrator.RequestDeadlineMS {
		slog.Warn("orchestrator.fanin_barrier_ms is not below request_deadline_ms; enrichment may consume the whole request budget",
			"fanin_barrier_ms", cfg.Orchestrator.FanInBarrierMS,
			"request_deadline_ms", cfg.Orchestrator.RequestDeadlineMS,
		)
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.LLM.Provider.Name)
	validateProviderName("llm", cfg.LLM.Fallback.Name)
	validateProviderName("voice", cfg.Voice.Provider.Name)

	if cfg.LLM.Provider.Name == "" {
		slog.Warn("llm.provider is not configured; replies will use canned fallbacks only")
	}
	if cfg.Voice.Enabled && cfg.Voice.Provider.Name == "" {
		errs = append(errs, errors.New("voice.provider.name is required when voice.enabled is true"))
	}

	// Sampling params
	for key, p := range cfg.LLM.Params {
		if !slices.Contains(knownParams, key) {
			slog.Warn("llm.params key does not match any conversation phase", "key", key)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, fmt.Errorf("llm.params.%s.temperature %.2f is out of range [0, 2]", key, p.Temperature))
		}
		if p.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("llm.params.%s.max_tokens %d must not be negative", key, p.MaxTokens))
		}
	}

	// Cache overrides
	for ns, e := range cfg.Cache {
		if !slices.Contains(knownCacheNamespaces, ns) {
			slog.Warn("cache namespace is not used by any component", "namespace", ns)
		}
		if e.TTLSeconds < 0 {
			errs = append(errs, fmt.Errorf("cache.%s.ttl_s %d must not be negative", ns, e.TTLSeconds))
		}
	}

	// Breaker overrides
	for dep, e := range cfg.Breaker {
		if !slices.Contains(knownBreakerDeps, dep) {
			slog.Warn("breaker dependency is not guarded by any component", "dependency", dep)
		}
		for _, f := range []struct {
			name string
			v    int
		}{
			{"threshold", e.Threshold},
			{"window_s", e.WindowS},
			{"recovery_s", e.RecoveryS},
			{"max_retries", e.MaxRetries},
		} {
			if f.v < 0 {
				errs = append(errs, fmt.Errorf("breaker.%s.%s %d must not be negative", dep, f.name, f.v))
			}
		}
	}

	// Bandit overrides
	for id, e := range cfg.Bandit {
		if !slices.Contains(knownExperiments, id) {
			slog.Warn("bandit experiment is not in the built-in catalogue", "experiment", id)
		}
		if e.MinSampleSize < 0 {
			errs = append(errs, fmt.Errorf("bandit.%s.min_sample_size %d must not be negative", id, e.MinSampleSize))
		}
		if e.ConfidenceLevel < 0 || e.ConfidenceLevel >= 1 {
			errs = append(errs, fmt.Errorf("bandit.%s.confidence_level %.2f is out of range [0, 1)", id, e.ConfidenceLevel))
		}
	}

	// Predictor toggles
	for id := range cfg.Predictor {
		if !slices.Contains(knownModels, id) {
			slog.Warn("predictor id does not match any registered model", "model", id)
		}
	}

	// Drift
	if cfg.Drift.CheckIntervalS < 0 {
		errs = append(errs, fmt.Errorf("drift.check_interval_s %d must not be negative", cfg.Drift.CheckIntervalS))
	}
	if cfg.Drift.WindowHours < 0 {
		errs = append(errs, fmt.Errorf("drift.window_hours %d must not be negative", cfg.Drift.WindowHours))
	}
	if cfg.Drift.MinSamples < 0 {
		errs = append(errs, fmt.Errorf("drift.min_samples %d must not be negative", cfg.Drift.MinSamples))
	}
	if cfg.Drift.PSIThreshold < 0 {
		errs = append(errs, fmt.Errorf("drift.psi_threshold %.2f must not be negative", cfg.Drift.PSIThreshold))
	}
	if cfg.Drift.AccuracyDropPP < 0 || cfg.Drift.AccuracyDropPP > 1 {
		errs = append(errs, fmt.Errorf("drift.accuracy_drop_pp %.2f is out of range [0, 1]; 0.05 means five percentage points", cfg.Drift.AccuracyDropPP))
	}

	// Retrain
	if cfg.Retrain.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("retrain.queue_size %d must not be negative", cfg.Retrain.QueueSize))
	}
	if cfg.Retrain.HoldoutFraction < 0 || cfg.Retrain.HoldoutFraction >= 1 {
		errs = append(errs, fmt.Errorf("retrain.holdout_fraction %.2f is out of range [0, 1)", cfg.Retrain.HoldoutFraction))
	}
	if cfg.Retrain.MinSamples < 0 {
		errs = append(errs, fmt.Errorf("retrain.min_samples %d must not be negative", cfg.Retrain.MinSamples))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found
// in the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
	)
}
