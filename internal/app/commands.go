package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fit4rcex/coach/internal/workout"
)

const helpText = `commands:
  /open     show the coach overlay and connect
  /close    dismiss the coach overlay
  /mute     mute the coach
  /unmute   unmute the coach
  /status   print overlay, screen and workout state
  /workout  print the latest workout plan
  /home     switch to the home screen
  /quit     exit`

// commandLoop reads one command per line until ctx is done, the input ends
// or /quit is read. End of input stops command handling but not the app.
func (a *App) commandLoop(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			slog.Warn("command input error", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				slog.Debug("command input closed")
				return nil
			}
			if err := a.execute(strings.TrimSpace(line)); err != nil {
				return err
			}
		}
	}
}

// execute runs a single command. Only /quit returns an error.
func (a *App) execute(cmd string) error {
	switch cmd {
	case "":
	case "/open":
		if a.providers.S2S == nil {
			a.printf("error: %v", ErrNoVoiceService)
			return nil
		}
		// Opening blocks until connected; /close must stay responsive.
		a.bg.Go(func() {
			err := a.OpenCoach(a.lifetime)
			if errors.Is(err, ErrOverlayVisible) {
				a.printf("coach overlay is already open")
			} else if err != nil {
				slog.Debug("coach open failed", "err", err)
			}
		})
	case "/close":
		if !a.overlay.Visible() {
			a.printf("coach overlay is not open")
			return nil
		}
		if err := a.CloseCoach(); err != nil {
			a.printf("error: %v", err)
		}
	case "/mute", "/unmute":
		if !a.overlay.SetMuted(cmd == "/mute") {
			a.printf("coach overlay is not open")
		}
	case "/status":
		a.printStatusReport()
	case "/workout":
		a.printPlan()
	case "/home":
		a.nav.Switch(ScreenHome)
	case "/help":
		a.printf("%s", helpText)
	case "/quit":
		return errQuit
	default:
		a.printf("unknown command %q; type /help", cmd)
	}
	return nil
}

func (a *App) printStatusReport() {
	info := a.overlay.Info()
	a.printf("screen:  %s", a.nav.Current())
	if info.Visible {
		a.printf("overlay: %s (%s) muted=%t", info.View.Status, info.View.State, info.View.Muted)
		a.printf("caption: %s", info.View.Caption())
	} else {
		a.printf("overlay: hidden")
	}
	res := a.workouts.Latest()
	switch {
	case res.Requested.IsZero():
		a.printf("workout: none requested")
	case res.Pending:
		a.printf("workout: generating %s (%s)", res.Request.WorkoutType, res.Request.Intensity)
	case res.Err != nil:
		a.printf("workout: failed: %v", res.Err)
	default:
		a.printf("workout: %q", res.Plan.Title)
	}
}

func (a *App) printPlan() {
	res := a.workouts.Latest()
	if res.Plan == nil {
		a.printf("no workout plan yet")
		return
	}
	a.printf("%s", formatPlan(res.Plan))
}

// formatPlan renders a plan as plain text, one exercise per line.
func formatPlan(p *workout.Plan) string {
	var b strings.Builder
	b.WriteString(p.Title)
	if p.Description != "" {
		b.WriteString("\n  " + p.Description)
	}
	for i, ex := range p.Exercises {
		b.WriteString("\n  " + strconv.Itoa(i+1) + ". " + ex.Name)
		var dose []string
		if ex.Sets > 0 {
			dose = append(dose, strconv.Itoa(ex.Sets)+" sets")
		}
		if ex.Reps > 0 {
			dose = append(dose, strconv.Itoa(ex.Reps)+" reps")
		}
		if ex.DurationSeconds > 0 {
			dose = append(dose, (time.Duration(ex.DurationSeconds) * time.Second).String())
		}
		if ex.RestSeconds > 0 {
			dose = append(dose, "rest "+(time.Duration(ex.RestSeconds)*time.Second).String())
		}
		if len(dose) > 0 {
			b.WriteString(" (" + strings.Join(dose, ", ") + ")")
		}
	}
	return b.String()
}

// ─── /status ─────────────────────────────────────────────────────────────────

type statusResponse struct {
	Screen  Screen         `json:"screen"`
	Overlay overlayStatus  `json:"overlay"`
	Workout *workoutStatus `json:"workout,omitempty"`
}

type overlayStatus struct {
	Visible      bool   `json:"visible"`
	SessionID    string `json:"session_id,omitempty"`
	State        string `json:"state"`
	Status       string `json:"status,omitempty"`
	Caption      string `json:"caption,omitempty"`
	Muted        bool   `json:"muted"`
	AISpeaking   bool   `json:"ai_speaking"`
	UserSpeaking bool   `json:"user_speaking"`
}

type workoutStatus struct {
	WorkoutType string        `json:"workout_type"`
	Intensity   string        `json:"intensity"`
	Pending     bool          `json:"pending"`
	Error       string        `json:"error,omitempty"`
	Plan        *workout.Plan `json:"plan,omitempty"`
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	info := a.overlay.Info()
	resp := statusResponse{
		Screen: a.nav.Current(),
		Overlay: overlayStatus{
			Visible:      info.Visible,
			SessionID:    info.View.SessionID,
			State:        info.View.State.String(),
			Status:       info.View.Status,
			Caption:      info.View.Caption(),
			Muted:        info.View.Muted,
			AISpeaking:   info.View.AISpeaking,
			UserSpeaking: info.View.UserSpeaking,
		},
	}
	if res := a.workouts.Latest(); !res.Requested.IsZero() {
		ws := &workoutStatus{
			WorkoutType: res.Request.WorkoutType,
			Intensity:   res.Request.Intensity,
			Pending:     res.Pending,
			Plan:        res.Plan,
		}
		if res.Err != nil {
			ws.Error = res.Err.Error()
		}
		resp.Workout = ws
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("encode status", "err", err)
	}
}
