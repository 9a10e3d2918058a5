// Package resilience keeps workout generation available when a plan backend
// misbehaves.
//
// Each backend sits behind a [Breaker]. After MaxFailures consecutive
// failures the breaker opens and the backend is skipped until ResetTimeout
// has passed; then a single trial request decides whether it closes again.
// [WorkoutFallback] chains several backends in priority order.
//
// The realtime voice session never retries; this package is only used on the
// detached workout path.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen

	// StateHalfOpen lets one trial call through.
	StateHalfOpen
)

// String returns the lowercase name of s.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before letting a trial call through.
	// Default: 30s.
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inTrial  bool
}

// NewBreaker returns a closed breaker labelled name.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// Do runs fn unless the breaker is open. Cancellation of the caller's
// context is not held against the backend.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(trial, err)
	return err
}

func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		slog.Info("resilience: trying backend", "backend", b.name)
		fallthrough
	case StateHalfOpen:
		if b.inTrial {
			return false, ErrCircuitOpen
		}
		b.inTrial = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.inTrial = false
	}
	switch {
	case err == nil:
		if b.state != StateClosed {
			slog.Info("resilience: backend recovered", "backend", b.name)
		}
		b.state = StateClosed
		b.failures = 0
	case errors.Is(err, context.Canceled):
		// The caller gave up; says nothing about the backend.
	case trial:
		b.trip()
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	slog.Warn("resilience: backend disabled",
		"backend", b.name,
		"failures", b.failures,
		"retry_in", b.cfg.ResetTimeout,
	)
}

// State reports the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}
