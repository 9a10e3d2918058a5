// Package openai provides a workout generator backed by the OpenAI Chat
// Completions API in JSON mode.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/fit4rcex/coach/internal/workout"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Generator implements workout.Generator using OpenAI.
type Generator struct {
	client oai.Client
	model  string
}

var _ workout.Generator = (*Generator)(nil)

type config struct {
	model      string
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option configures a Generator.
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request. Negative
// keeps the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Generator. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Generator{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Name implements workout.Generator.
func (g *Generator) Name() string { return "openai" }

// Generate implements workout.Generator.
func (g *Generator) Generate(ctx context.Context, prompt, language string) (*workout.Plan, error) {
	resp, err := g.client.Chat.Completions.New(ctx, buildParams(g.model, prompt, language))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai: %w", workout.ErrEmptyPlan)
	}
	plan, err := workout.ParsePlan([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return plan, nil
}

func buildParams(model, prompt, language string) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(workout.SystemPrompt(language)),
			oai.UserMessage(prompt),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: param.NewOpt(0.7),
	}
}
