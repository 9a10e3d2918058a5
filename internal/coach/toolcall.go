package coach

import (
	"context"
	"log/slog"

	"github.com/fit4rcex/coach/pkg/provider/s2s"
)

// handleToolCall answers every function call right away and starts the
// workout handoff for the first startWorkoutGeneration call of the session.
// Later calls of the same name are acknowledged but not acted on.
func (m *Manager) handleToolCall(ctx context.Context, res *resources, tc s2s.ToolCall) {
	for _, call := range tc.Calls {
		if call.Name != StartWorkoutGeneration {
			slog.Warn("coach: unknown function call", "name", call.Name, "id", call.ID)
			m.respond(res, call, map[string]any{"error": "unknown function: " + call.Name})
			m.metrics.RecordToolCall(ctx, call.Name, "unknown")
			continue
		}

		m.respond(res, call, map[string]any{"result": toolAck})
		if !m.toolFired.CompareAndSwap(false, true) {
			slog.Info("coach: ignoring duplicate workout call", "id", call.ID)
			m.metrics.RecordToolCall(ctx, call.Name, "duplicate")
			continue
		}

		req := ParseWorkoutRequest(call.Args)
		req.Language = m.language
		m.metrics.RecordToolCall(ctx, call.Name, "honoured")
		slog.Info("coach: workout requested",
			"workout_type", req.WorkoutType,
			"equipment", req.Equipment,
			"target_areas", req.TargetAreas,
			"intensity", req.Intensity,
		)
		m.update(func(v *View) { v.Status = StatusGenerating })
		m.scheduleHandoff(req)
	}
}

func (m *Manager) respond(res *resources, call s2s.FunctionCall, result map[string]any) {
	err := res.session.SendToolResponse(s2s.ToolResponse{
		ID:     call.ID,
		Name:   call.Name,
		Result: result,
	})
	if err != nil {
		slog.Warn("coach: send tool response", "name", call.Name, "err", err)
	}
}

// scheduleHandoff closes the overlay after closeDelay and starts the workout
// switchDelay later. The timers are not tied to the session and still fire
// after Close, so the requested workout is always generated.
func (m *Manager) scheduleHandoff(req WorkoutRequest) {
	m.afterFunc(m.closeDelay, func() {
		m.handoff.CloseOverlay()
		m.afterFunc(m.switchDelay, func() {
			m.handoff.StartWorkout(req)
		})
	})
}
