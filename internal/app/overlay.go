package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fit4rcex/coach/internal/coach"
)

// ErrOverlayVisible is returned by [Overlay.Show] while a session is on screen.
var ErrOverlayVisible = errors.New("app: coach overlay is already visible")

// SessionFactory builds a fresh, idle coach session wired to handoff.
type SessionFactory func(handoff coach.Handoff) *coach.Manager

// workoutStarter is the detached half of the handoff; it outlives the overlay.
type workoutStarter interface {
	StartWorkout(req coach.WorkoutRequest)
}

// OverlayInfo describes the overlay for status output.
type OverlayInfo struct {
	Visible  bool
	OpenedAt time.Time
	View     coach.View
}

// Overlay owns the visibility of the voice coach. Every Show creates a new
// session; at most one session is alive at a time. All exported methods are
// safe for concurrent use.
type Overlay struct {
	newSession SessionFactory
	workouts   workoutStarter

	mu       sync.Mutex
	current  *coach.Manager
	visible  bool
	openedAt time.Time
	last     coach.View
	onChange []func(coach.View)
}

// NewOverlay returns a hidden overlay.
func NewOverlay(newSession SessionFactory, workouts workoutStarter) *Overlay {
	return &Overlay{
		newSession: newSession,
		workouts:   workouts,
		last:       coach.View{State: coach.StateIdle},
	}
}

// OnChange registers fn to receive every view change of every session.
func (o *Overlay) OnChange(fn func(coach.View)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onChange = append(o.onChange, fn)
}

// Show makes the overlay visible and opens a new session. It blocks until the
// session is connected or has failed. A failed session stays on screen with
// its status until [Overlay.Hide].
func (o *Overlay) Show(ctx context.Context, muted bool) error {
	o.mu.Lock()
	if o.visible {
		o.mu.Unlock()
		return ErrOverlayVisible
	}
	h := &sessionHandoff{overlay: o, workouts: o.workouts}
	m := o.newSession(h)
	h.session = m
	if muted {
		m.SetMuted(true)
	}
	m.OnChange(func(v coach.View) { o.record(m, v) })
	o.current = m
	o.visible = true
	o.openedAt = time.Now()
	o.last = m.Snapshot()
	o.mu.Unlock()

	slog.Info("coach overlay shown")
	return m.Open(ctx)
}

// Hide dismisses the overlay and tears its session down. Hiding a hidden
// overlay is a no-op.
func (o *Overlay) Hide() error {
	return o.hide(nil)
}

// hide closes the current session. When only is non-nil, the overlay is
// hidden only if that session is still the current one.
func (o *Overlay) hide(only *coach.Manager) error {
	o.mu.Lock()
	m := o.current
	if m == nil || (only != nil && m != only) {
		o.mu.Unlock()
		return nil
	}
	o.current = nil
	o.visible = false
	o.mu.Unlock()

	err := m.Close()
	slog.Info("coach overlay hidden", "session_id", m.Snapshot().SessionID)
	return err
}

// SetMuted mutes or unmutes the current session. It reports false when no
// session is visible.
func (o *Overlay) SetMuted(muted bool) bool {
	o.mu.Lock()
	m := o.current
	o.mu.Unlock()
	if m == nil {
		return false
	}
	m.SetMuted(muted)
	return true
}

// Visible reports whether the overlay is on screen.
func (o *Overlay) Visible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visible
}

// Info returns the overlay state and the most recent session view.
func (o *Overlay) Info() OverlayInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OverlayInfo{Visible: o.visible, OpenedAt: o.openedAt, View: o.last}
}

// record is the session change listener. A dismissed session keeps updating
// the last view until another session is shown.
func (o *Overlay) record(m *coach.Manager, v coach.View) {
	o.mu.Lock()
	if o.current != nil && o.current != m {
		o.mu.Unlock()
		return
	}
	o.last = v
	fns := make([]func(coach.View), len(o.onChange))
	copy(fns, o.onChange)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// sessionHandoff binds a session's tool-call handoff to the overlay. Closing
// only affects the session that asked for it, so a late timer never dismisses
// a newer session.
type sessionHandoff struct {
	overlay  *Overlay
	workouts workoutStarter
	session  *coach.Manager
}

var _ coach.Handoff = (*sessionHandoff)(nil)

func (h *sessionHandoff) CloseOverlay() {
	if err := h.overlay.hide(h.session); err != nil {
		slog.Warn("close coach overlay", "err", err)
	}
}

func (h *sessionHandoff) StartWorkout(req coach.WorkoutRequest) {
	h.workouts.StartWorkout(req)
}
