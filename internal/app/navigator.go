package app

import (
	"log/slog"
	"sync"
)

// Screen identifies the active top-level view.
type Screen string

const (
	ScreenHome    Screen = "home"
	ScreenCoach   Screen = "coach"
	ScreenWorkout Screen = "workout"
)

// Navigator tracks the active screen. It is safe for concurrent use.
type Navigator struct {
	mu       sync.Mutex
	current  Screen
	onChange []func(from, to Screen)
}

// NewNavigator returns a navigator on [ScreenHome].
func NewNavigator() *Navigator {
	return &Navigator{current: ScreenHome}
}

// Current returns the active screen.
func (n *Navigator) Current() Screen {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Switch makes to the active screen. Switching to the active screen does not
// notify.
func (n *Navigator) Switch(to Screen) {
	n.mu.Lock()
	from := n.current
	if from == to {
		n.mu.Unlock()
		return
	}
	n.current = to
	fns := make([]func(from, to Screen), len(n.onChange))
	copy(fns, n.onChange)
	n.mu.Unlock()

	slog.Debug("screen switched", "from", from, "to", to)
	for _, fn := range fns {
		fn(from, to)
	}
}

// OnChange registers fn to be called after every screen switch.
func (n *Navigator) OnChange(fn func(from, to Screen)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = append(n.onChange, fn)
}
