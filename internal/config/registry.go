package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/fit4rcex/coach/internal/workout"
	"github.com/fit4rcex/coach/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a
// provider that has no factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is a name-keyed set of constructors for one provider kind.
type factories[T any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]Factory[T]
}

func newFactories[T any](kind string) *factories[T] {
	return &factories[T]{kind: kind, byName: make(map[string]Factory[T])}
}

func (f *factories[T]) set(name string, fn Factory[T]) {
	f.mu.Lock()
	f.byName[name] = fn
	f.mu.Unlock()
}

func (f *factories[T]) build(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.byName[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return fn(entry)
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byName))
}

// Registry resolves [ProviderEntry] names to constructors. Registering a
// name twice replaces the earlier factory. It is safe for concurrent use.
type Registry struct {
	s2s     *factories[s2s.Provider]
	workout *factories[workout.Generator]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		s2s:     newFactories[s2s.Provider]("s2s"),
		workout: newFactories[workout.Generator]("workout"),
	}
}

// RegisterS2S registers a voice service factory.
func (r *Registry) RegisterS2S(name string, fn Factory[s2s.Provider]) { r.s2s.set(name, fn) }

// RegisterWorkout registers a workout generator factory.
func (r *Registry) RegisterWorkout(name string, fn Factory[workout.Generator]) {
	r.workout.set(name, fn)
}

// CreateS2S builds the voice service named by entry.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) { return r.s2s.build(entry) }

// CreateWorkout builds the workout generator named by entry.
func (r *Registry) CreateWorkout(entry ProviderEntry) (workout.Generator, error) {
	return r.workout.build(entry)
}

// Names lists the registered names of kind ("s2s" or "workout"), sorted.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "s2s":
		return r.s2s.names()
	case "workout":
		return r.workout.names()
	}
	return nil
}
