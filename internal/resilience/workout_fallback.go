package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fit4rcex/coach/internal/workout"
)

// ErrAllFailed is returned when no backend produced a plan.
var ErrAllFailed = errors.New("resilience: all workout backends failed")

type backend struct {
	gen     workout.Generator
	breaker *Breaker
}

// WorkoutFallback implements [workout.Generator] over several backends. The
// first one whose breaker is not open is asked for a plan; on failure the
// next one is tried. A plan without exercises counts as a failure.
type WorkoutFallback struct {
	cfg      BreakerConfig
	backends []backend
}

var _ workout.Generator = (*WorkoutFallback)(nil)

// NewWorkoutFallback creates a WorkoutFallback with primary as the preferred
// backend.
func NewWorkoutFallback(primary workout.Generator, cfg BreakerConfig) *WorkoutFallback {
	f := &WorkoutFallback{cfg: cfg}
	f.AddFallback(primary)
	return f
}

// AddFallback appends g after the backends already registered. It is not
// safe to call concurrently with Generate.
func (f *WorkoutFallback) AddFallback(g workout.Generator) {
	f.backends = append(f.backends, backend{gen: g, breaker: NewBreaker(g.Name(), f.cfg)})
}

// Generate implements [workout.Generator].
func (f *WorkoutFallback) Generate(ctx context.Context, prompt, language string) (*workout.Plan, error) {
	var errs []error
	for _, b := range f.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var plan *workout.Plan
		err := b.breaker.Do(func() error {
			p, err := b.gen.Generate(ctx, prompt, language)
			if err == nil {
				err = p.Validate()
			}
			plan = p
			return err
		})
		if err == nil {
			return plan, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping disabled backend", "backend", b.gen.Name())
		} else {
			slog.Warn("resilience: workout backend failed", "backend", b.gen.Name(), "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.gen.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Name lists the backends in failover order, e.g. "gemini>openai".
func (f *WorkoutFallback) Name() string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.gen.Name()
	}
	return strings.Join(names, ">")
}

// Healthy returns an error when every backend is disabled.
func (f *WorkoutFallback) Healthy() error {
	for _, b := range f.backends {
		if b.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("all %d workout backends are disabled", len(f.backends))
}

// States reports the breaker state per backend name.
func (f *WorkoutFallback) States() map[string]State {
	out := make(map[string]State, len(f.backends))
	for _, b := range f.backends {
		out[b.gen.Name()] = b.breaker.State()
	}
	return out
}
