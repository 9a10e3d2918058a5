// Package app wires the fitcoach subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the overlay, navigator
// and workout pipeline, Run serves health and metrics and reads operator
// commands, and Shutdown tears everything down in order.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithInput, WithOutput, WithMetrics, WithAfterFunc).
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fit4rcex/coach/internal/coach"
	"github.com/fit4rcex/coach/internal/config"
	"github.com/fit4rcex/coach/internal/health"
	"github.com/fit4rcex/coach/internal/observe"
	"github.com/fit4rcex/coach/internal/workout"
	"github.com/fit4rcex/coach/pkg/audio"
	"github.com/fit4rcex/coach/pkg/provider/s2s"
)

// ErrNoVoiceService is returned by [App.OpenCoach] when no S2S provider is
// configured.
var ErrNoVoiceService = errors.New("app: no voice service configured")

// ErrNoWorkoutBackend is reported for workout requests when no generator is
// configured.
var ErrNoWorkoutBackend = errors.New("app: no workout backend configured")

// serverShutdownTimeout bounds the graceful HTTP shutdown in Run.
const serverShutdownTimeout = 5 * time.Second

// Providers holds the external collaborators. Nil S2S or Workout means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	S2S        s2s.Provider
	Workout    workout.Generator
	Microphone audio.Microphone
	Speaker    audio.OutputDevice
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	afterFunc func(time.Duration, func())
	in        io.Reader
	out       io.Writer
	outMu     sync.Mutex

	nav      *Navigator
	overlay  *Overlay
	workouts *Workouts

	// lifetime bounds detached work (workout generation, overlay opens).
	lifetime context.Context
	cancel   context.CancelFunc
	bg       sync.WaitGroup

	mu       sync.Mutex
	coachCfg config.CoachConfig
	applied  *config.Config

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithInput sets the reader operator commands are read from. Without it Run
// reads no commands.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// WithOutput sets where command replies and status lines are written.
// Defaults to [io.Discard].
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithAfterFunc replaces the timer used by coach sessions for the workout
// handoff.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(a *App) { a.afterFunc = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. The providers struct comes from main.go (populated via
// the config registry).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		out:       io.Discard,
		coachCfg:  cfg.Coach,
		applied:   cfg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers.S2S != nil && (providers.Microphone == nil || providers.Speaker == nil) {
		return nil, errors.New("app: microphone and speaker are required with a voice service")
	}

	a.lifetime, a.cancel = context.WithCancel(context.Background())
	a.nav = NewNavigator()

	var gen planGenerator = unavailableGenerator{}
	if providers.Workout != nil {
		gen = workout.NewClient(providers.Workout, workout.WithMetrics(a.metrics))
	}
	a.workouts = NewWorkouts(a.lifetime, gen, a.nav)
	a.overlay = NewOverlay(a.newSession, a.workouts)

	a.overlay.OnChange(a.printStatus())
	a.nav.OnChange(func(_, to Screen) { a.printf("screen: %s", to) })
	a.workouts.OnResult(a.printWorkout)

	return a, nil
}

// newSession is the overlay's [SessionFactory]. It reads the coach settings at
// call time so a reloaded config applies to the next session.
func (a *App) newSession(h coach.Handoff) *coach.Manager {
	a.mu.Lock()
	c := a.coachCfg
	a.mu.Unlock()

	opts := []coach.Option{
		coach.WithMetrics(a.metrics),
		coach.WithHandoffDelays(c.HandoffDelay, c.ScreenSwitchDelay),
		coach.WithVoice(c.Voice),
		coach.WithLanguage(c.Language),
	}
	if c.CaptureGain > 0 {
		opts = append(opts, coach.WithCaptureGain(float32(c.CaptureGain)))
	}
	if c.SystemPrompt != "" {
		opts = append(opts, coach.WithInstructions(c.SystemPrompt))
	}
	if r := a.cfg.Audio.PlaybackSampleRate; r > 0 {
		opts = append(opts, coach.WithPlaybackRate(r))
	}
	if a.afterFunc != nil {
		opts = append(opts, coach.WithAfterFunc(a.afterFunc))
	}
	return coach.New(a.providers.S2S, a.providers.Microphone, a.providers.Speaker, h, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Overlay returns the coach overlay controller.
func (a *App) Overlay() *Overlay { return a.overlay }

// Navigator returns the screen navigator.
func (a *App) Navigator() *Navigator { return a.nav }

// Workouts returns the workout request tracker.
func (a *App) Workouts() *Workouts { return a.workouts }

// OpenCoach shows the overlay and connects a new session. It blocks until the
// session is open or has failed.
func (a *App) OpenCoach(ctx context.Context) error {
	if a.providers.S2S == nil {
		return ErrNoVoiceService
	}
	a.mu.Lock()
	muted := a.coachCfg.StartMuted
	a.mu.Unlock()
	return a.overlay.Show(ctx, muted)
}

// CloseCoach dismisses the overlay.
func (a *App) CloseCoach() error {
	return a.overlay.Hide()
}

// ApplyConfig applies the hot-reloadable parts of cfg. Coach settings take
// effect on the next session; provider changes are only logged.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	old := a.applied
	a.applied = cfg
	a.coachCfg = cfg.Coach
	a.mu.Unlock()

	d := config.Diff(old, cfg)
	if d.CoachChanged {
		slog.Info("coach settings reloaded; applied to the next session", "changed", d.CoachChanges)
	}
	if d.NeedsRestart() {
		slog.Warn("provider settings changed; restart to apply", "s2s", d.S2SChanged, "workout", d.WorkoutChanged)
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP surface: /healthz, /readyz, /metrics and /status,
// wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	workoutCheck := health.Configured("workout", a.providers.Workout != nil, "providers.workout is empty")
	if hc, ok := a.providers.Workout.(healthReporter); ok {
		workoutCheck = health.Func("workout", hc.Healthy)
	}
	checks := health.New(
		health.Configured("s2s", a.providers.S2S != nil, "providers.s2s is not configured"),
		workoutCheck,
		health.Func("overlay", a.overlayHealthy),
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", a.handleStatus)
	return observe.Middleware(a.metrics)(mux)
}

// healthReporter is implemented by workout generators that can tell when no
// backend is usable, such as a resilience.WorkoutFallback.
type healthReporter interface {
	Healthy() error
}

func (a *App) overlayHealthy() error {
	info := a.overlay.Info()
	if info.Visible && info.View.State == coach.StateErrored {
		return fmt.Errorf("coach session errored: %s", info.View.Status)
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// errQuit ends Run after a /quit command.
var errQuit = errors.New("app: quit requested")

// Run serves HTTP (when server.listen_addr is set) and processes operator
// commands until ctx is cancelled or /quit is read. It returns ctx.Err() on
// cancellation and nil after /quit.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			} else {
				err = srv.Serve(ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.in != nil {
		g.Go(func() error { return a.commandLoop(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	slog.Info("app running", "screen", a.nav.Current())
	err := g.Wait()
	switch {
	case errors.Is(err, errQuit):
		return nil
	case err != nil && !errors.Is(err, context.Canceled):
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the overlay, abandons in-flight workout requests and waits
// for background work. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.overlay.Hide(); err != nil {
			slog.Warn("overlay close error", "err", err)
		}
		a.cancel()

		done := make(chan struct{})
		go func() {
			a.bg.Wait()
			a.workouts.Wait()
			close(done)
		}()
		select {
		case <-done:
			// An open that raced the first Hide may have shown a new session.
			if err := a.overlay.Hide(); err != nil {
				slog.Warn("overlay close error", "err", err)
			}
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded")
			shutdownErr = ctx.Err()
			return
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// unavailableGenerator fails every request when no backend is configured.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, string, string) (*workout.Plan, error) {
	return nil, ErrNoWorkoutBackend
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format+"\n", args...)
}

// printStatus returns an overlay listener that prints status transitions.
// Transcript updates are only logged at debug level.
func (a *App) printStatus() func(coach.View) {
	var mu sync.Mutex
	var last string
	return func(v coach.View) {
		mu.Lock()
		changed := v.Status != last
		last = v.Status
		mu.Unlock()
		if changed {
			a.printf("coach: %s", v.Status)
		}
		slog.Debug("coach view", "state", v.State, "caption", v.Caption(), "muted", v.Muted)
	}
}

func (a *App) printWorkout(res WorkoutResult) {
	if res.Err != nil {
		a.printf("workout: generation failed: %v", res.Err)
		return
	}
	a.printf("workout: %q ready with %d exercises", res.Plan.Title, len(res.Plan.Exercises))
}
