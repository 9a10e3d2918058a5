// Package gemini provides a workout generator backed by the Gemini API via
// the google.golang.org/genai SDK. The model is asked for JSON constrained by
// a response schema matching [workout.Plan].
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/fit4rcex/coach/internal/workout"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Generator implements workout.Generator using Gemini.
type Generator struct {
	client *genai.Client
	model  string
}

var _ workout.Generator = (*Generator)(nil)

type config struct {
	model   string
	baseURL string
}

// Option configures a Generator.
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New creates a Generator. apiKey must not be empty.
func New(ctx context.Context, apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	cfg := config{model: DefaultModel}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Generator{client: client, model: cfg.model}, nil
}

// Name implements workout.Generator.
func (g *Generator) Name() string { return "gemini" }

// Generate implements workout.Generator.
func (g *Generator) Generate(ctx context.Context, prompt, language string) (*workout.Plan, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(workout.SystemPrompt(language), genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    planSchema(),
			Temperature:       genai.Ptr[float32](0.7),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini: %w", workout.ErrEmptyPlan)
	}
	plan, err := workout.ParsePlan([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return plan, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func planSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	num := &genai.Schema{Type: genai.TypeInteger}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":       str,
			"description": str,
			"exercises": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":            str,
						"description":     str,
						"sets":            num,
						"reps":            num,
						"durationSeconds": num,
						"restSeconds":     num,
					},
					Required: []string{"name", "description"},
				},
			},
		},
		Required: []string{"title", "description", "exercises"},
	}
}
