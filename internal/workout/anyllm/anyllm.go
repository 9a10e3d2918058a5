// Package anyllm implements a workout.Generator on top of
// github.com/mozilla-ai/any-llm-go, which speaks to Anthropic, Ollama,
// DeepSeek, Mistral, Groq, llama.cpp and llamafile through one API.
//
// Usage:
//
//	g, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/fit4rcex/coach/internal/workout"
)

// Backends lists the provider names accepted by [New].
var Backends = []string{"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// temperature matches the other plan backends.
const temperature = 0.7

// Generator produces plans through an any-llm-go backend.
type Generator struct {
	name    string
	model   string
	backend anyllmlib.Provider
}

var _ workout.Generator = (*Generator)(nil)

// New creates a Generator for the named backend. model is required because
// the backends share no sensible default. Without an API key option the
// backend falls back to its usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Generator, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	b, err := createBackend(backend, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backend, err)
	}
	return &Generator{name: strings.ToLower(backend), model: model, backend: b}, nil
}

func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return anthropic.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: %s", name, strings.Join(Backends, ", "))
	}
}

// Name implements workout.Generator.
func (g *Generator) Name() string { return g.name }

// Generate implements workout.Generator.
func (g *Generator) Generate(ctx context.Context, prompt, language string) (*workout.Plan, error) {
	resp, err := g.backend.Completion(ctx, buildParams(g.model, prompt, language))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", g.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %w", workout.ErrEmptyPlan)
	}
	return parseContent(resp.Choices[0].Message.ContentString())
}

func parseContent(content string) (*workout.Plan, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("anyllm: %w", workout.ErrEmptyPlan)
	}
	plan, err := workout.ParsePlan([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %w", err)
	}
	return plan, nil
}

func buildParams(model, prompt, language string) anyllmlib.CompletionParams {
	t := temperature
	return anyllmlib.CompletionParams{
		Model: model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: workout.SystemPrompt(language)},
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
		Temperature: &t,
	}
}

// Supported reports whether name is one of [Backends].
func Supported(name string) bool {
	return slices.Contains(Backends, strings.ToLower(name))
}
