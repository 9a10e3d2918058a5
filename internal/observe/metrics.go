// Package observe provides application-wide observability primitives for the
// coach: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so they can be scraped from
// /metrics. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all coach metrics.
const meterName = "github.com/fit4rcex/coach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Voice sessions ---

	// ActiveSessions tracks the number of open voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsEnded counts terminated sessions. Use with attribute:
	//   attribute.String("status", ...)
	SessionsEnded metric.Int64Counter

	// ConnectDuration tracks how long opening a session takes, from the mic
	// request to the service acknowledging setup.
	ConnectDuration metric.Float64Histogram

	// --- Audio bridge ---

	// FramesSent counts microphone frames transmitted to the service.
	FramesSent metric.Int64Counter

	// FramesMuted counts microphone frames discarded while muted.
	FramesMuted metric.Int64Counter

	// BuffersScheduled counts decoded playback buffers queued for output.
	BuffersScheduled metric.Int64Counter

	// --- Tool calls ---

	// ToolCalls counts function calls from the model. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Workout generation ---

	// WorkoutDuration tracks workout plan generation latency.
	WorkoutDuration metric.Float64Histogram

	// WorkoutRequests counts generator calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	WorkoutRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Plan
// generation by an LLM routinely takes several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("fitcoach.sessions.active",
		metric.WithDescription("Number of open voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("fitcoach.sessions.ended",
		metric.WithDescription("Total terminated voice sessions by final status."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("fitcoach.sessions.connect.duration",
		metric.WithDescription("Latency of opening a voice session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("fitcoach.audio.frames_sent",
		metric.WithDescription("Total microphone frames sent to the voice service."),
	); err != nil {
		return nil, err
	}
	if met.FramesMuted, err = m.Int64Counter("fitcoach.audio.frames_muted",
		metric.WithDescription("Total microphone frames discarded while muted."),
	); err != nil {
		return nil, err
	}
	if met.BuffersScheduled, err = m.Int64Counter("fitcoach.audio.buffers_scheduled",
		metric.WithDescription("Total playback buffers scheduled on the output device."),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("fitcoach.tool.calls",
		metric.WithDescription("Total function calls from the model by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.WorkoutDuration, err = m.Float64Histogram("fitcoach.workout.duration",
		metric.WithDescription("Latency of workout plan generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WorkoutRequests, err = m.Int64Counter("fitcoach.workout.requests",
		metric.WithDescription("Total workout generator calls by backend and status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("fitcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status code."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSessionEnd decrements the active gauge and counts the final status.
func (m *Metrics) RecordSessionEnd(ctx context.Context, status string) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordConnectFailure counts a session that ended before it was opened. The
// active gauge is untouched.
func (m *Metrics) RecordConnectFailure(ctx context.Context, status string) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordWorkoutRequest records one generator call and its latency.
func (m *Metrics) RecordWorkoutRequest(ctx context.Context, backend, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	m.WorkoutRequests.Add(ctx, 1, attrs)
	m.WorkoutDuration.Record(ctx, seconds, attrs)
}
