// Package app wires all agent subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem from the configuration, Run starts the background loops and
// blocks, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithCache, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cierra-ai/cierra/internal/bandit"
	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/config"
	"github.com/cierra-ai/cierra/internal/drift"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/empathy"
	"github.com/cierra-ai/cierra/internal/engine"
	"github.com/cierra-ai/cierra/internal/health"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/observe"
	"github.com/cierra-ai/cierra/internal/orchestrator"
	"github.com/cierra-ai/cierra/internal/predict"
	"github.com/cierra-ai/cierra/internal/resilience"
	"github.com/cierra-ai/cierra/internal/retrain"
	"github.com/cierra-ai/cierra/internal/store"
	"github.com/cierra-ai/cierra/internal/store/filesink"
	"github.com/cierra-ai/cierra/internal/store/memstore"
	"github.com/cierra-ai/cierra/internal/store/postgres"
	"github.com/cierra-ai/cierra/internal/tier"
	"github.com/cierra-ai/cierra/internal/tracking"
	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/provider/voice"
	"github.com/cierra-ai/cierra/pkg/types"
)

// banditFlushInterval is the write-behind cadence for experiment snapshots.
const banditFlushInterval = 30 * time.Second

// closerTimeout bounds each individual teardown step during Shutdown.
const closerTimeout = 5 * time.Second

// Providers holds one interface value per external provider slot. Nil means
// the provider is not configured. Populated by main via the config registry.
type Providers struct {
	// LLM is the primary completion backend. Required.
	LLM llm.Provider

	// FallbackLLM, when non-nil, is chained behind the primary through a
	// fallback group with its own breaker.
	FallbackLLM llm.Provider

	// Voice is the optional speech synthesis backend. Required only when
	// voice.enabled is set.
	Voice voice.Provider
}

// App owns all subsystem lifetimes and runs the conversational agent core.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	sessions     store.SessionStore
	events       store.EventSink
	docs         store.DocStore
	pinger       health.Pinger
	cache        cache.Cache
	breakers     *resilience.Registry
	registry     *models.Registry
	experimenter *bandit.Experimenter
	composer     *empathy.Composer
	engine       *engine.Engine
	orch         *orchestrator.Orchestrator
	reaper       *orchestrator.Reaper
	aggregator   *tracking.Aggregator
	scheduler    *drift.Scheduler
	retrainer    *retrain.Worker
	healthSrv    *http.Server
	watcher      *config.Watcher

	logLevel  *slog.LevelVar
	watchPath string

	// closers tear subsystems down; Shutdown runs them newest-first.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from
// config.
func WithSessionStore(s store.SessionStore) Option {
	return func(a *App) { a.sessions = s }
}

// WithEventSink injects a telemetry sink instead of deriving one from config.
func WithEventSink(s store.EventSink) Option {
	return func(a *App) { a.events = s }
}

// WithDocStore injects a document store instead of deriving one from config.
func WithDocStore(d store.DocStore) Option {
	return func(a *App) { a.docs = d }
}

// WithCache injects a cache instead of creating the in-memory one.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithLogLevel hands the app the level var behind the process logger so a
// configuration reload can adjust verbosity without a restart.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithConfigWatch enables hot reload by polling the given config file.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection, cache and
// breaker setup, model and experiment restore, catalogue loading, engine and
// orchestrator assembly, and the observability providers. Background loops
// start in Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.providers == nil {
		a.providers = &Providers{}
	}

	// ── 1. Persistence ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Cache ─────────────────────────────────────────────────────────
	a.initCache()

	// ── 3. Circuit breakers ──────────────────────────────────────────────
	a.initBreakers()

	// ── 4. Model registry ────────────────────────────────────────────────
	a.initModels(ctx)

	// ── 5. Experiments ───────────────────────────────────────────────────
	a.initExperiments(ctx)

	// ── 6. Catalogues ────────────────────────────────────────────────────
	if err := a.initCatalogues(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalogues: %w", err)
	}

	// ── 7. Reply engine ──────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 8. Orchestrator ──────────────────────────────────────────────────
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	// ── 9. ML loop ───────────────────────────────────────────────────────
	a.initMLLoop()

	// ── 10. Observability ────────────────────────────────────────────────
	if err := a.initObservability(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	// ── 11. Health endpoints ─────────────────────────────────────────────
	a.initHealth()

	// ── 12. Config watcher ───────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init watcher: %w", err)
	}

	return a, nil
}

// Orchestrator exposes the conversation entry points for in-process callers
// such as the demo console.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the configured store backend and fills every
// persistence slot that was not injected. The file sink, when configured,
// tees telemetry next to the store's own event log.
func (a *App) initStore(ctx context.Context) error {
	if a.sessions == nil || a.events == nil || a.docs == nil {
		switch a.cfg.Store.Driver {
		case config.StorePostgres:
			pg, err := postgres.NewStore(ctx, a.cfg.Store.Postgres.URL,
				postgres.WithMaxConns(a.cfg.Store.Postgres.MaxConns))
			if err != nil {
				return err
			}
			if a.sessions == nil {
				a.sessions = pg
			}
			if a.events == nil {
				a.events = pg
			}
			if a.docs == nil {
				a.docs = pg
			}
			a.pinger = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			slog.Info("postgres store connected")
		default:
			mem := memstore.New()
			if a.sessions == nil {
				a.sessions = mem
			}
			if a.events == nil {
				a.events = mem
			}
			if a.docs == nil {
				a.docs = mem
			}
		}
	}

	if a.cfg.Tracking.Sink == config.SinkFile && a.cfg.Tracking.Path != "" {
		a.events = store.Tee(a.events, filesink.New(a.cfg.Tracking.Path))
		slog.Info("telemetry teed to file", "path", a.cfg.Tracking.Path)
	}
	return nil
}

// initCache creates the in-memory cache with the configured per-namespace
// TTL overrides.
func (a *App) initCache() {
	if a.cache != nil {
		return
	}
	var opts []cache.MemoryOption
	for name, entry := range a.cfg.Cache {
		if entry.TTLSeconds > 0 {
			opts = append(opts, cache.WithTTL(cache.Namespace(name), entry.TTL()))
		}
	}
	a.cache = cache.NewMemory(opts...)
}

// initBreakers builds the breaker registry from the defaults with file-level
// overrides merged per dependency. Zero fields in an override keep the
// default for that dependency.
// recordBreakerTransition feeds circuit breaker state changes into the
// transition counter. Shared by the registry breakers and the per-provider
// breakers inside fallback chains.
func recordBreakerTransition(name string, from, to resilience.State) {
	observe.DefaultMetrics().RecordBreakerTransition(
		context.Background(), name, from.String(), to.String())
}

func (a *App) initBreakers() {
	cfgs := resilience.DefaultConfigs()
	defaults := make(map[string]resilience.Config, len(cfgs))
	for _, c := range cfgs {
		defaults[c.Name] = c
	}
	for name, e := range a.cfg.Breaker {
		c := defaults[name]
		c.Name = name
		if e.Threshold > 0 {
			c.FailureThreshold = e.Threshold
		}
		if e.WindowS > 0 {
			c.FailureWindow = e.Window()
		}
		if e.RecoveryS > 0 {
			c.RecoveryTimeout = e.Recovery()
		}
		if e.MaxRetries > 0 {
			c.MaxRetries = e.MaxRetries
		}
		cfgs = append(cfgs, c)
	}
	for i := range cfgs {
		cfgs[i].OnStateChange = recordBreakerTransition
	}
	a.breakers = resilience.NewRegistry(cfgs...)
}

// initModels builds the model registry and restores promoted artifacts from
// the document store. Restore failure keeps the seeded artifacts, so the
// predictors serve from first boot either way.
func (a *App) initModels(ctx context.Context) {
	a.registry = models.NewRegistry(models.WithDocStore(a.docs))
	if err := a.registry.Restore(ctx); err != nil {
		slog.Warn("model registry restore failed, serving seeded artifacts", "err", err)
	}
}

// initExperiments builds the experimenter over the default catalogue with
// per-experiment config overrides and restores persisted arm counters.
func (a *App) initExperiments(ctx context.Context) {
	exps := bandit.DefaultExperiments()
	for i := range exps {
		e, ok := a.cfg.Bandit[exps[i].ID]
		if !ok {
			continue
		}
		if e.MinSampleSize > 0 {
			exps[i].MinSampleSize = e.MinSampleSize
		}
		if e.ConfidenceLevel > 0 {
			exps[i].ConfidenceLevel = e.ConfidenceLevel
		}
		if e.AutoDeploy != nil {
			exps[i].AutoDeploy = *e.AutoDeploy
		}
	}

	a.experimenter = bandit.New(
		bandit.WithExperiments(exps...),
		bandit.WithDocStore(a.docs),
		bandit.WithBreaker(a.breakers.Get(resilience.DepPersistence)),
	)
	if err := a.experimenter.Restore(ctx); err != nil {
		slog.Warn("experiment restore failed, starting from fresh arms", "err", err)
	}
}

// initCatalogues loads the template catalogue and the product fact sheet,
// then warms the static-knowledge cache. A broken file at startup is fatal;
// at reload time the previous catalogue is kept instead.
func (a *App) initCatalogues(ctx context.Context) error {
	if a.cfg.Catalog.TemplatesPath != "" {
		cat, err := empathy.LoadCatalogue(a.cfg.Catalog.TemplatesPath)
		if err != nil {
			return err
		}
		a.composer = empathy.New(empathy.WithCatalogue(cat))
		slog.Info("template catalogue loaded", "path", a.cfg.Catalog.TemplatesPath, "templates", len(cat.Templates))
	} else {
		a.composer = empathy.New()
	}

	k := empathy.DefaultKnowledge()
	if a.cfg.Catalog.KnowledgePath != "" {
		loaded, err := empathy.LoadKnowledge(a.cfg.Catalog.KnowledgePath)
		if err != nil {
			return err
		}
		k = loaded
		slog.Info("knowledge sheet loaded", "path", a.cfg.Catalog.KnowledgePath)
	}
	if err := empathy.WarmKnowledge(ctx, a.cache, k); err != nil {
		slog.Warn("knowledge warm failed, replies carry fewer product facts", "err", err)
	}
	return nil
}

// initEngine assembles the completion provider chain and the reply engine.
func (a *App) initEngine() error {
	if a.providers.LLM == nil {
		return fmt.Errorf("an llm provider is required")
	}

	provider := a.providers.LLM
	if a.providers.FallbackLLM != nil {
		chain := resilience.NewLLMFallback(provider, providerLabel(a.cfg.LLM.Provider, "primary"), resilience.FallbackConfig{
			CircuitBreaker: resilience.Config{OnStateChange: recordBreakerTransition},
		})
		chain.AddFallback(providerLabel(a.cfg.LLM.Fallback, "fallback"), a.providers.FallbackLLM)
		provider = chain
	}

	llmBreaker := a.breakers.Get(resilience.DepLLM)
	opts := []engine.Option{
		engine.WithBreaker(llmBreaker),
		engine.WithCache(a.cache),
		engine.WithRetries(llmBreaker.MaxRetries()),
	}
	if a.cfg.LLM.Persona != "" {
		opts = append(opts, engine.WithPersona(a.cfg.LLM.Persona))
	}
	if len(a.cfg.LLM.Params) > 0 {
		params := make(map[string]engine.Params, len(a.cfg.LLM.Params))
		for phase, p := range a.cfg.LLM.Params {
			params[phase] = engine.Params{Temperature: p.Temperature, MaxTokens: p.MaxTokens}
		}
		opts = append(opts, engine.WithParams(params))
	}

	a.engine = engine.New(provider, a.composer, opts...)
	return nil
}

// initOrchestrator assembles the conversation pipeline and its reaper.
func (a *App) initOrchestrator() error {
	ocfg := orchestrator.Config{
		Sessions:   a.sessions,
		Cache:      a.cache,
		Emotion:    emotion.New(),
		Tier:       tier.New(),
		Predictors: a.newPredictorSet(),
		Bandit:     a.experimenter,
		Composer:   a.composer,
		Engine:     a.engine,
		Tracker:    tracking.NewTracker(a.events),
		Breakers:   a.breakers,

		RequestDeadline: a.cfg.Orchestrator.RequestDeadline(),
		StageDeadline:   a.cfg.Orchestrator.StageDeadline(),
		FanInBarrier:    a.cfg.Orchestrator.FanInBarrier(),
		MaxInFlight:     a.cfg.Orchestrator.MaxInFlight,
		MessageTokenCap: a.cfg.Orchestrator.MessageTokenCap,
		IdleTimeout:     a.cfg.Orchestrator.SessionIdleTimeout(),
	}

	if a.cfg.Voice.Enabled {
		if a.providers.Voice == nil {
			return fmt.Errorf("voice.enabled requires a voice provider")
		}
		ocfg.Voice = a.providers.Voice
		ocfg.VoiceProfile = types.VoiceProfile{
			ID:       a.cfg.Voice.VoiceID,
			Provider: a.cfg.Voice.Provider.Name,
		}
	}

	a.orch = orchestrator.New(ocfg)
	a.reaper = orchestrator.NewReaper(a.orch)
	return nil
}

// newPredictorSet builds the predictor set, disabling the models the config
// switches off so their rule-based fallbacks serve permanently.
func (a *App) newPredictorSet() *predict.Set {
	var disabled []string
	for id, e := range a.cfg.Predictor {
		if e.Enabled != nil && !*e.Enabled {
			disabled = append(disabled, id)
		}
	}
	var opts []predict.Option
	if len(disabled) > 0 {
		slog.Info("predictors disabled by config", "models", disabled)
		opts = append(opts, predict.WithDisabled(disabled...))
	}
	return predict.NewSet(a.registry, opts...)
}

// initMLLoop wires the aggregation window, the drift detector with its
// scheduler, and the retraining worker, with drift findings feeding the
// worker's queue.
func (a *App) initMLLoop() {
	var aggOpts []tracking.AggregatorOption
	if a.cfg.Drift.WindowHours > 0 {
		aggOpts = append(aggOpts, tracking.WithWindow(a.cfg.Drift.Window()))
	}
	a.aggregator = tracking.NewAggregator(a.events, aggOpts...)

	dopts := []drift.Option{
		drift.WithDocStore(a.docs),
		// The config expresses the accuracy drop in percentage points,
		// the detector in absolute accuracy.
		drift.WithThresholds(a.cfg.Drift.PSIThreshold, a.cfg.Drift.AccuracyDropPP/100),
	}
	if a.cfg.Drift.MinSamples > 0 {
		dopts = append(dopts, drift.WithMinSamples(a.cfg.Drift.MinSamples))
	}
	detector := drift.NewDetector(a.registry, a.aggregator, dopts...)

	ropts := []retrain.Option{retrain.WithDocStore(a.docs)}
	if a.cfg.Retrain.QueueSize > 0 {
		ropts = append(ropts, retrain.WithQueueSize(a.cfg.Retrain.QueueSize))
	}
	if a.cfg.Retrain.HoldoutFraction > 0 {
		ropts = append(ropts, retrain.WithHoldoutFraction(a.cfg.Retrain.HoldoutFraction))
	}
	if a.cfg.Retrain.MinSamples > 0 {
		ropts = append(ropts, retrain.WithMinSamples(a.cfg.Retrain.MinSamples))
	}
	a.retrainer = retrain.NewWorker(a.registry, a.aggregator, ropts...)

	sopts := []drift.SchedulerOption{
		drift.WithNotify(a.retrainer.Notify),
		drift.WithOnReport(func(rep *drift.Report) {
			observe.DefaultMetrics().SetDriftSeverity(
				context.Background(), rep.ModelID, string(rep.Severity))
		}),
	}
	if a.cfg.Drift.CheckIntervalS > 0 {
		sopts = append(sopts, drift.WithInterval(a.cfg.Drift.CheckInterval()))
	}
	a.scheduler = drift.NewScheduler(detector, sopts...)
}

// initObservability stands up the OTel providers and, when configured, the
// Prometheus scrape listener.
func (a *App) initObservability(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "cierra",
		MetricsAddr: a.cfg.Observe.MetricsAddr,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		c, cancel := context.WithTimeout(context.Background(), closerTimeout)
		defer cancel()
		return shutdown(c)
	})
	return nil
}

// initHealth builds the probe server. The listener starts in Run.
func (a *App) initHealth() {
	if a.cfg.Observe.HealthAddr == "" {
		return
	}

	h := health.New(
		health.StoreChecker(a.pinger),
		health.CacheChecker(a.cache),
		health.BreakerChecker(a.breakers, resilience.DepLLM),
		health.CatalogueChecker(a.composer),
	)
	mux := http.NewServeMux()
	h.Register(mux)
	health.RegisterBreakers(mux, a.breakers)

	a.healthSrv = &http.Server{
		Addr:              a.cfg.Observe.HealthAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		c, cancel := context.WithTimeout(context.Background(), closerTimeout)
		defer cancel()
		return a.healthSrv.Shutdown(c)
	})
}

// initWatcher starts polling the config file when hot reload is enabled.
func (a *App) initWatcher() error {
	if a.watchPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.watchPath, a.applyConfigChange)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// applyConfigChange handles a reloaded configuration file: hot keys take
// effect immediately, everything else is reported as needing a restart.
func (a *App) applyConfigChange(old, next *config.Config) {
	d := config.Compare(old, next)
	for _, key := range d.Hot {
		switch key {
		case "logging.level":
			if a.logLevel != nil {
				a.logLevel.Set(next.Logging.Level.Slog())
				slog.Info("log level updated", "level", next.Logging.Level)
			}
		case "catalog":
			a.reloadCatalogues(next.Catalog)
		}
	}
	if len(d.Restart) > 0 {
		slog.Warn("config changes need a restart to apply", "keys", d.Restart)
	}
}

// reloadCatalogues swaps in the template catalogue and rewarms the knowledge
// cache. A file that fails to load or validate keeps the previous state.
func (a *App) reloadCatalogues(cat config.CatalogConfig) {
	if cat.TemplatesPath != "" {
		c, err := empathy.LoadCatalogue(cat.TemplatesPath)
		if err != nil {
			slog.Error("template catalogue reload failed, keeping previous", "err", err)
		} else if err := a.composer.Reload(c); err != nil {
			slog.Error("template catalogue rejected, keeping previous", "err", err)
		} else {
			slog.Info("template catalogue reloaded", "path", cat.TemplatesPath)
		}
	}

	k := empathy.DefaultKnowledge()
	if cat.KnowledgePath != "" {
		loaded, err := empathy.LoadKnowledge(cat.KnowledgePath)
		if err != nil {
			slog.Error("knowledge reload failed, keeping previous", "err", err)
			return
		}
		k = loaded
	}
	ctx, cancel := context.WithTimeout(context.Background(), closerTimeout)
	defer cancel()
	if err := empathy.WarmKnowledge(ctx, a.cache, k); err != nil {
		slog.Warn("knowledge warm failed", "err", err)
	} else {
		slog.Info("knowledge cache rewarmed")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background loops and blocks until ctx is cancelled.
//
// The loops are the session reaper, the drift scheduler, the retraining
// worker, the experiment snapshot flusher, and the health listener when one
// is configured. Run returns ctx.Err() once the flusher has drained.
func (a *App) Run(ctx context.Context) error {
	a.reaper.Start(ctx)
	defer a.reaper.Stop()
	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()
	a.retrainer.Start(ctx)
	defer a.retrainer.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.flushExperiments(ctx)
	}()

	if a.healthSrv != nil {
		go func() {
			slog.Info("health endpoints listening", "addr", a.healthSrv.Addr)
			if err := a.healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("health endpoints failed", "err", err)
			}
		}()
	}

	slog.Info("agent running",
		"store", a.cfg.Store.Driver,
		"voice", a.cfg.Voice.Enabled,
	)
	<-ctx.Done()

	wg.Wait()
	return ctx.Err()
}

// flushExperiments snapshots dirty experiment state on a fixed cadence and
// once more on the way out.
func (a *App) flushExperiments(ctx context.Context) {
	ticker := time.NewTicker(banditFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c, cancel := context.WithTimeout(context.Background(), closerTimeout)
			if err := a.experimenter.Flush(c); err != nil {
				slog.Warn("final experiment flush failed", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := a.experimenter.Flush(ctx); err != nil {
				slog.Warn("experiment flush failed", "err", err)
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems newest-first, so the watcher and
// listeners go before the stores they depend on. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// providerLabel names a provider entry in logs and breaker snapshots.
func providerLabel(entry config.ProviderEntry, fallback string) string {
	if entry.Name != "" {
		return entry.Name
	}
	return fallback
}
