// Command fitcoach runs the realtime voice coach with a terminal front end.
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

	"github.com/fit4rcex/coach/internal/app"
	"github.com/fit4rcex/coach/internal/config"
	"github.com/fit4rcex/coach/internal/observe"
	"github.com/fit4rcex/coach/internal/resilience"
	"github.com/fit4rcex/coach/internal/workout"
	"github.com/fit4rcex/coach/internal/workout/anyllm"
	geminiworkout "github.com/fit4rcex/coach/internal/workout/gemini"
	oaiworkout "github.com/fit4rcex/coach/internal/workout/openai"
	"github.com/fit4rcex/coach/pkg/audio/device"
	"github.com/fit4rcex/coach/pkg/provider/s2s"
	geminilive "github.com/fit4rcex/coach/pkg/provider/s2s/gemini"
	oais2s "github.com/fit4rcex/coach/pkg/provider/s2s/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fitcoach: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fitcoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("fitcoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers,
		app.WithInput(os.Stdin),
		app.WithOutput(os.Stdout),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		if d := config.Diff(old, updated); d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyConfig(updated)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("coach ready; type /help for commands, Ctrl+C to quit")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup reloads the config file on SIGHUP without waiting for the
// next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if !w.Reload() {
				slog.Warn("config reload on SIGHUP failed; keeping the current config")
			}
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if d, ok := optDuration(entry.Options, "handshake_timeout"); ok {
			opts = append(opts, geminilive.WithHandshakeTimeout(d))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		if d, ok := optDuration(entry.Options, "handshake_timeout"); ok {
			opts = append(opts, oais2s.WithHandshakeTimeout(d))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── Workout ───────────────────────────────────────────────────────────────

	reg.RegisterWorkout("gemini", func(entry config.ProviderEntry) (workout.Generator, error) {
		var opts []geminiworkout.Option
		if entry.Model != "" {
			opts = append(opts, geminiworkout.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminiworkout.WithBaseURL(entry.BaseURL))
		}
		return geminiworkout.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterWorkout("openai", func(entry config.ProviderEntry) (workout.Generator, error) {
		var opts []oaiworkout.Option
		if entry.Model != "" {
			opts = append(opts, oaiworkout.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaiworkout.WithBaseURL(entry.BaseURL))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, oaiworkout.WithTimeout(d))
		}
		if n, ok := entry.Options["max_retries"].(int); ok {
			opts = append(opts, oaiworkout.WithMaxRetries(n))
		}
		return oaiworkout.New(entry.APIKey, opts...)
	})

	// anthropic, ollama, deepseek, mistral, groq, llamacpp and llamafile share
	// the same pattern: optional APIKey + optional BaseURL.
	for _, backend := range anyllm.Backends {
		reg.RegisterWorkout(backend, func(entry config.ProviderEntry) (workout.Generator, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	for _, kind := range []string{"s2s", "workout"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg and the local audio
// devices. Workout backends after the first become fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{
		Microphone: &device.Microphone{
			FrameSize: cfg.Audio.Microphone.FrameSize,
			Period:    cfg.Audio.Microphone.Period,
		},
		Speaker: &device.Speaker{BufferSize: cfg.Audio.Speaker.BufferSize},
	}

	if name := cfg.Providers.S2S.Name; name != "" {
		p, err := reg.CreateS2S(cfg.Providers.S2S)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider; skipping", "kind", "s2s", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create s2s provider %q: %w", name, err)
		} else {
			ps.S2S = p
			slog.Info("provider created", "kind", "s2s", "name", name)
		}
	}

	fbCfg := resilience.BreakerConfig{
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
	}
	var group *resilience.WorkoutFallback
	for _, entry := range cfg.Providers.Workout {
		g, err := reg.CreateWorkout(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider; skipping", "kind", "workout", "name", entry.Name)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("create workout provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "workout", "name", entry.Name)
		if group == nil {
			group = resilience.NewWorkoutFallback(g, fbCfg)
		} else {
			group.AddFallback(g)
		}
	}
	if group != nil {
		ps.Workout = group
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        fitcoach · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Voice service", providerLabel(cfg.Providers.S2S))
	if len(cfg.Providers.Workout) == 0 {
		printRow("Workouts", "(not configured)")
	}
	for i, entry := range cfg.Providers.Workout {
		kind := "Workouts"
		if i > 0 {
			kind = "  fallback"
		}
		printRow(kind, providerLabel(entry))
	}
	printRow("Voice", orNone(cfg.Coach.Voice))
	printRow("Language", cfg.Coach.Language)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

func printRow(kind, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

func orNone(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optDuration reads a duration from a provider Options map. Both Go duration
// strings ("10s") and integer milliseconds are accepted.
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid duration option", "key", key, "value", v)
			return 0, false
		}
		return d, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	default:
		return 0, false
	}
}
