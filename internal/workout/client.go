package workout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fit4rcex/coach/internal/observe"
)

// DefaultTimeout bounds a single Generate call.
const DefaultTimeout = 60 * time.Second

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithTimeout overrides [DefaultTimeout]. Zero disables the timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// Client is the Workout Generation Client. It is constructed once and passed
// to whoever needs plans; it holds no global state and is safe for
// concurrent use.
type Client struct {
	gen     Generator
	timeout time.Duration
	metrics *observe.Metrics
}

// NewClient wraps gen.
func NewClient(gen Generator, opts ...ClientOption) *Client {
	c := &Client{gen: gen, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Generate asks the backend for a plan and validates it.
func (c *Client) Generate(ctx context.Context, prompt, language string) (*Plan, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "workout.generate",
		trace.WithAttributes(
			attribute.String("workout.backend", c.gen.Name()),
			attribute.String("workout.language", language),
		),
	)
	defer span.End()

	start := time.Now()
	plan, err := c.gen.Generate(ctx, prompt, language)
	if err == nil {
		err = plan.Validate()
	}
	elapsed := time.Since(start)

	status := "ok"
	switch {
	case errors.Is(err, ErrEmptyPlan):
		status = "empty"
	case err != nil:
		status = "error"
	}
	c.metrics.RecordWorkoutRequest(ctx, c.gen.Name(), status, elapsed.Seconds())

	log := observe.Logger(ctx)
	if err != nil {
		observe.FailSpan(span, err)
		log.Error("workout: generate failed", "backend", c.gen.Name(), "elapsed", elapsed, "err", err)
		return nil, fmt.Errorf("workout: generate: %w", err)
	}
	log.Info("workout: plan generated",
		"backend", c.gen.Name(),
		"title", plan.Title,
		"exercises", len(plan.Exercises),
		"elapsed", elapsed,
	)
	return plan, nil
}
