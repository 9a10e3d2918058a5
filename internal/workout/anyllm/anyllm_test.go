package anyllm

import (
	"errors"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/fit4rcex/coach/internal/workout"
)

func TestBuildParams(t *testing.T) {
	params := buildParams("llama3.2", "core day", "de")

	if params.Model != "llama3.2" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if !strings.Contains(params.Messages[0].ContentString(), `"de"`) {
		t.Errorf("system prompt lacks the language: %q", params.Messages[0].ContentString())
	}
	if params.Messages[1].Role != anyllmlib.RoleUser || params.Messages[1].ContentString() != "core day" {
		t.Errorf("user message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != temperature {
		t.Errorf("Temperature = %v", params.Temperature)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		wantErr bool
	}{
		{name: "anthropic", backend: "anthropic", model: "claude-3-5-haiku-latest"},
		{name: "ollama mixed case", backend: "Ollama", model: "llama3.2"},
		{name: "missing model", backend: "ollama", wantErr: true},
		{name: "unknown backend", backend: "fakecloud", model: "m", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.backend, tc.model, anyllmlib.WithAPIKey("test-key"))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if g.Name() != strings.ToLower(tc.backend) {
				t.Errorf("Name() = %q", g.Name())
			}
		})
	}
}

func TestParseContent(t *testing.T) {
	plan, err := parseContent("```json\n{\"title\":\"Core\",\"exercises\":[{\"name\":\"Plank\"}]}\n```")
	if err != nil {
		t.Fatalf("parseContent: %v", err)
	}
	if plan.Title != "Core" || len(plan.Exercises) != 1 {
		t.Errorf("plan = %+v", plan)
	}

	if _, err := parseContent("  "); !errors.Is(err, workout.ErrEmptyPlan) {
		t.Errorf("blank content error = %v, want ErrEmptyPlan", err)
	}
	if _, err := parseContent("not json"); err == nil {
		t.Error("expected error for malformed content")
	}
}

func TestSupported(t *testing.T) {
	for _, name := range Backends {
		if !Supported(name) {
			t.Errorf("Supported(%q) = false", name)
		}
	}
	if Supported("gemini") {
		t.Error("gemini has a dedicated backend")
	}
}
