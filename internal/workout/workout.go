// Package workout is the Workout Generation Client: it turns a free-text
// prompt and a language code into a structured workout plan.
//
// Backends implement [Generator]. [Client] wraps one generator (usually a
// resilience fallback group over several) with timeouts, tracing, metrics and
// plan validation.
package workout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPlan is returned when a backend answers with a plan that has no
// exercises.
var ErrEmptyPlan = errors.New("workout: plan has no exercises")

// Plan is a generated workout.
type Plan struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Exercises   []Exercise `json:"exercises"`
}

// Exercise is one entry of a [Plan]. Only Name is required.
type Exercise struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Sets            int    `json:"sets,omitempty"`
	Reps            int    `json:"reps,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	RestSeconds     int    `json:"restSeconds,omitempty"`
}

// Validate reports ErrEmptyPlan for a plan without named exercises.
func (p *Plan) Validate() error {
	if p == nil {
		return ErrEmptyPlan
	}
	for _, ex := range p.Exercises {
		if strings.TrimSpace(ex.Name) != "" {
			return nil
		}
	}
	return ErrEmptyPlan
}

// Generator produces a workout plan from a prompt.
type Generator interface {
	// Generate returns a plan written in the given language (an ISO 639-1
	// code such as "en").
	Generate(ctx context.Context, prompt, language string) (*Plan, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Request is the normalised set of workout parameters collected by the voice
// coach.
type Request struct {
	WorkoutType string
	Equipment   []string
	TargetAreas []string
	Intensity   string
	Notes       string
}

// BuildPrompt renders req as the free-text prompt sent to a [Generator].
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %s intensity %s workout.\n", orDefault(req.Intensity, "medium"), orDefault(req.WorkoutType, "fitness"))
	if len(req.Equipment) > 0 {
		fmt.Fprintf(&b, "Available equipment: %s.\n", humanList(req.Equipment))
	} else {
		b.WriteString("No equipment is available, use bodyweight exercises only.\n")
	}
	if len(req.TargetAreas) > 0 {
		fmt.Fprintf(&b, "Focus on: %s.\n", humanList(req.TargetAreas))
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		fmt.Fprintf(&b, "User notes: %s\n", notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SystemPrompt is the instruction shared by all LLM backends. It pins the JSON
// shape [ParsePlan] expects.
func SystemPrompt(language string) string {
	if language == "" {
		language = "en"
	}
	return fmt.Sprintf(`You are a certified personal trainer. Design a safe, effective workout for the request.
Answer only with a JSON object of the form
{"title": string, "description": string, "exercises": [{"name": string, "description": string, "sets": int, "reps": int, "durationSeconds": int, "restSeconds": int}]}.
Use between 4 and 10 exercises. Write all text in the language with code %q.`, language)
}

// ParsePlan decodes a backend answer into a Plan. Markdown code fences around
// the JSON are tolerated.
func ParsePlan(data []byte) (*Plan, error) {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("```")) {
		data = bytes.TrimPrefix(data, []byte("```"))
		if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
			data = data[nl+1:]
		}
		data = bytes.TrimSuffix(bytes.TrimSpace(data), []byte("```"))
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("workout: decode plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func humanList(items []string) string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ReplaceAll(s, "_", " ")
	}
	return strings.Join(out, ", ")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
