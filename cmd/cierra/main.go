// Command cierra is the main entry point for the Cierra sales agent daemon.
//
// It loads the YAML configuration, instantiates the configured LLM and voice
// providers, wires the application together and runs until SIGINT/SIGTERM.
// The agent exposes no conversation wire API; conversations are driven
// in-process through [app.App.Orchestrator]. Pass -demo to attach an
// interactive console on stdin/stdout for manual testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/cierra-ai/cierra/internal/app"
	"github.com/cierra-ai/cierra/internal/config"
	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/provider/llm/anyllm"
	llmmock "github.com/cierra-ai/cierra/pkg/provider/llm/mock"
	"github.com/cierra-ai/cierra/pkg/provider/llm/openai"
	"github.com/cierra-ai/cierra/pkg/provider/voice"
	"github.com/cierra-ai/cierra/pkg/provider/voice/elevenlabs"
	voicemock "github.com/cierra-ai/cierra/pkg/provider/voice/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	demo := flag.Bool("demo", false, "attach an interactive conversation console on stdin/stdout")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cierra: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cierra: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("cierra starting",
		"config", *configPath,
		"store", cfg.Store.Driver,
		"log_level", cfg.Logging.Level,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(logLevel),
		app.WithConfigWatch(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Run the demo console in a separate goroutine; leaving the console
	// cancels the signal context and ends the process.
	if *demo {
		go func() {
			runConsole(ctx, application.Orchestrator())
			stop()
		}()
	} else {
		slog.Info("agent ready, press Ctrl+C to shut down")
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Cierra. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":   {"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "ollama", "llamacpp", "llamafile", "mock"},
	"voice": {"elevenlabs", "mock"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the official SDK for organization and request-option
	// support; the rest of the hosted backends share one any-llm pattern:
	// optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// mock needs no credentials and answers every turn with the same line.
	// Useful for demo runs and smoke tests without a live backend.
	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		content := optString(entry.Options, "reply")
		if content == "" {
			content = "¡Con gusto! El programa combina clases en vivo con acompañamiento de mentoras. ¿Quieres que revisemos el plan que mejor se ajusta a ti?"
		}
		return &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content:      content,
				FinishReason: "stop",
			},
		}, nil
	})

	// ── Voice ─────────────────────────────────────────────────────────────────

	reg.RegisterVoice("elevenlabs", func(entry config.ProviderEntry) (voice.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterVoice("mock", func(entry config.ProviderEntry) (voice.Provider, error) {
		return &voicemock.Provider{}, nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.LLM.Provider.Name; name != "" {
		p, err := reg.CreateLLM(cfg.LLM.Provider)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.LLM.Fallback.Name; name != "" {
		p, err := reg.CreateLLM(cfg.LLM.Fallback)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", "llm_fallback", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create fallback llm provider %q: %w", name, err)
		} else {
			ps.FallbackLLM = p
			slog.Info("provider created", "kind", "llm_fallback", "name", name)
		}
	}

	if cfg.Voice.Enabled {
		name := cfg.Voice.Provider.Name
		p, err := reg.CreateVoice(cfg.Voice.Provider)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", "voice", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create voice provider %q: %w", name, err)
		} else {
			ps.Voice = p
			slog.Info("provider created", "kind", "voice", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Cierra: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("LLM", providerSummary(cfg.LLM.Provider))
	printEntry("Fallback", providerSummary(cfg.LLM.Fallback))
	if cfg.Voice.Enabled {
		printEntry("Voice", providerSummary(cfg.Voice.Provider))
	} else {
		printEntry("Voice", "(disabled)")
	}
	printEntry("Store", string(cfg.Store.Driver))
	printEntry("Tracking", string(cfg.Tracking.Sink))
	printEntry("Metrics", orDisabled(cfg.Observe.MetricsAddr))
	printEntry("Health", orDisabled(cfg.Observe.HealthAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(label, value string) {
	if len(value) > 23 {
		value = value[:20] + "..."
	}
	fmt.Printf("║  %-10s : %-23s ║\n", label, value)
}

func providerSummary(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

func orDisabled(addr string) string {
	if addr == "" {
		return "(disabled)"
	}
	return addr
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger in the configured format and returns
// the level var behind it so configuration reloads can adjust verbosity at
// runtime.
func newLogger(level config.LogLevel, format config.LogFormat) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Slog())

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == config.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), lvl
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
