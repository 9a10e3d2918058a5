// Package mock provides a test double for the workout.Generator interface.
//
// Example:
//
//	g := &mock.Generator{Plan: &workout.Plan{Title: "Legs", Exercises: []workout.Exercise{{Name: "Squat"}}}}
//	plan, err := g.Generate(ctx, "leg day", "en")
package mock

import (
	"context"
	"sync"

	"github.com/fit4rcex/coach/internal/workout"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Ctx      context.Context
	Prompt   string
	Language string
}

// Generator is a mock implementation of workout.Generator.
type Generator struct {
	mu sync.Mutex

	// GeneratorName is returned by Name. Defaults to "mock".
	GeneratorName string

	// Plan is returned by Generate.
	Plan *workout.Plan

	// Err, if non-nil, is returned by Generate instead of Plan.
	Err error

	// Block, if non-nil, makes Generate wait until it is closed or the
	// context is done.
	Block chan struct{}

	calls []GenerateCall
}

// Generate records the call and returns Plan, Err.
func (g *Generator) Generate(ctx context.Context, prompt, language string) (*workout.Plan, error) {
	g.mu.Lock()
	g.calls = append(g.calls, GenerateCall{Ctx: ctx, Prompt: prompt, Language: language})
	block := g.Block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	return g.Plan, nil
}

// Name returns GeneratorName or "mock".
func (g *Generator) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.GeneratorName == "" {
		return "mock"
	}
	return g.GeneratorName
}

// Calls returns a copy of every recorded Generate call.
func (g *Generator) Calls() []GenerateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GenerateCall, len(g.calls))
	copy(out, g.calls)
	return out
}

// Ensure Generator implements workout.Generator at compile time.
var _ workout.Generator = (*Generator)(nil)
