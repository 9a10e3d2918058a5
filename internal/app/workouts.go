package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fit4rcex/coach/internal/coach"
	"github.com/fit4rcex/coach/internal/workout"
)

// planGenerator is satisfied by *workout.Client.
type planGenerator interface {
	Generate(ctx context.Context, prompt, language string) (*workout.Plan, error)
}

// WorkoutResult is the state of the most recent workout request.
type WorkoutResult struct {
	Request   coach.WorkoutRequest
	Pending   bool
	Plan      *workout.Plan
	Err       error
	Requested time.Time
}

// Workouts turns honoured tool calls into generated plans. Requests run on
// their own goroutine, independent of the overlay that issued them.
type Workouts struct {
	client planGenerator
	nav    *Navigator
	ctx    context.Context

	wg       sync.WaitGroup
	mu       sync.Mutex
	seq      uint64
	latest   WorkoutResult
	onResult []func(WorkoutResult)
}

// NewWorkouts creates a Workouts. ctx bounds every generation; cancelling it
// abandons requests still in flight.
func NewWorkouts(ctx context.Context, client planGenerator, nav *Navigator) *Workouts {
	return &Workouts{client: client, nav: nav, ctx: ctx}
}

// OnResult registers fn to be called when a request finishes.
func (w *Workouts) OnResult(fn func(WorkoutResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResult = append(w.onResult, fn)
}

// StartWorkout switches to the workout screen and generates a plan for req.
// A newer request supersedes the result of an older one.
func (w *Workouts) StartWorkout(req coach.WorkoutRequest) {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.latest = WorkoutResult{Request: req, Pending: true, Requested: time.Now()}
	w.mu.Unlock()

	w.nav.Switch(ScreenWorkout)

	prompt := workout.BuildPrompt(workout.Request{
		WorkoutType: req.WorkoutType,
		Equipment:   req.Equipment,
		TargetAreas: req.TargetAreas,
		Intensity:   req.Intensity,
		Notes:       req.Notes,
	})

	w.wg.Go(func() {
		plan, err := w.client.Generate(w.ctx, prompt, req.Language)
		if err != nil {
			slog.Warn("workout generation failed", "workout_type", req.WorkoutType, "err", err)
		} else {
			slog.Info("workout ready", "title", plan.Title, "exercises", len(plan.Exercises))
		}

		w.mu.Lock()
		if seq != w.seq {
			w.mu.Unlock()
			return
		}
		w.latest.Pending = false
		w.latest.Plan = plan
		w.latest.Err = err
		res := w.latest
		fns := make([]func(WorkoutResult), len(w.onResult))
		copy(fns, w.onResult)
		w.mu.Unlock()

		for _, fn := range fns {
			fn(res)
		}
	})
}

// Latest returns the most recent request and its outcome. The zero value
// means no workout was requested yet.
func (w *Workouts) Latest() WorkoutResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

// Wait blocks until every started generation has returned.
func (w *Workouts) Wait() {
	w.wg.Wait()
}
