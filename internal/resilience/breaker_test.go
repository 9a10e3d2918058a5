package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// newTestBreaker returns a breaker on a manual clock.
func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	b := NewBreaker("test", cfg)
	b.now = func() time.Time { return now }
	return b, &now
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{})
	if b.cfg.MaxFailures != 3 || b.cfg.ResetTimeout != 30*time.Second {
		t.Errorf("cfg = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %s", b.State())
	}
}

func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		steps     []func() error
		advance   time.Duration
		wantState State
	}{
		{
			name:      "below threshold stays closed",
			steps:     []func() error{fail, fail},
			wantState: StateClosed,
		},
		{
			name:      "success resets the count",
			steps:     []func() error{fail, fail, succeed, fail, fail},
			wantState: StateClosed,
		},
		{
			name:      "threshold opens",
			steps:     []func() error{fail, fail, fail},
			wantState: StateOpen,
		},
		{
			name:      "open reports half-open after timeout",
			steps:     []func() error{fail, fail, fail},
			advance:   time.Minute,
			wantState: StateHalfOpen,
		},
		{
			name: "cancellation is not a failure",
			steps: []func() error{
				fail, fail,
				func() error { return fmt.Errorf("wrapped: %w", context.Canceled) },
			},
			wantState: StateClosed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, now := newTestBreaker(BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})
			for _, step := range tc.steps {
				_ = b.Do(step)
			}
			*now = now.Add(tc.advance)
			if got := b.State(); got != tc.wantState {
				t.Errorf("State() = %s, want %s", got, tc.wantState)
			}
		})
	}
}

func TestBreaker_OpenRejects(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	_ = b.Do(fail)

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do() = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestBreaker_TrialClosesOrReopens(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	_ = b.Do(fail)

	*now = now.Add(time.Minute)
	if err := b.Do(fail); !errors.Is(err, errBackend) {
		t.Fatalf("trial = %v, want backend error", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("failed trial: state = %s, want open", b.State())
	}

	*now = now.Add(time.Minute)
	if err := b.Do(succeed); err != nil {
		t.Fatalf("trial = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("successful trial: state = %s, want closed", b.State())
	}
}

func TestBreaker_SingleTrial(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	_ = b.Do(fail)
	*now = now.Add(time.Minute)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(inTrial)
			<-release
			return nil
		})
	}()
	<-inTrial

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call during trial = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
