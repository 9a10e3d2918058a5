// Package s2s defines the Provider interface for streaming speech-to-speech
// voice services.
//
// An S2S provider wraps a realtime voice model that accepts microphone audio
// and answers with synthesised speech, transcripts and function calls over a
// single stateful session. Examples include the Gemini Live API and the
// OpenAI Realtime API.
//
// Everything the service sends arrives on [Session.Events] as an [Event], a
// closed set of message kinds the caller switches over. Events are delivered
// strictly in arrival order.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/fit4rcex/coach/pkg/audio"
)

// ErrHandshake wraps every failure that happens before the service has
// acknowledged the session setup. Callers use it to tell a failed connection
// attempt apart from a transport error on an established session.
var ErrHandshake = errors.New("s2s: handshake failed")

// ErrSessionClosed is returned by Session send methods after Close.
var ErrSessionClosed = errors.New("s2s: session closed")

// ToolDeclaration describes a function the model may call.
type ToolDeclaration struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// Voice identifies a prebuilt voice offered by a provider.
type Voice struct {
	ID   string
	Name string
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Voice is the provider-specific voice ID. Empty selects the default.
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// Tools are the function declarations offered to the model.
	Tools []ToolDeclaration

	// InputTranscription requests partial transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	Voices []Voice

	// InputSampleRate is the PCM rate the provider expects from
	// SendRealtimeInput payloads.
	InputSampleRate int

	// OutputSampleRate is the default rate of AudioChunk payloads.
	OutputSampleRate int

	// MaxSessionDuration is the service-enforced session limit; zero if unknown.
	MaxSessionDuration time.Duration
}

// ToolResponse acknowledges a FunctionCall.
type ToolResponse struct {
	ID     string
	Name   string
	Result map[string]any
}

// Session is a live connection to the voice service.
type Session interface {
	// SendRealtimeInput streams one encoded microphone payload.
	SendRealtimeInput(blob audio.Blob) error

	// SendToolResponse answers a function call from the model.
	SendToolResponse(resp ToolResponse) error

	// Events returns the inbound message stream. The channel is closed when
	// the session ends for any reason.
	Events() <-chan Event

	// Err returns the transport error that ended the session, or nil if the
	// session is still running or was closed cleanly.
	Err() error

	// Close terminates the session. Idempotent.
	Close() error
}

// Provider opens sessions with a streaming voice service.
type Provider interface {
	// Connect opens a session and returns once the service has acknowledged
	// the setup. Any failure before that point wraps [ErrHandshake].
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
