// Package openai implements the s2s.Provider interface for OpenAI's Realtime
// API.
//
// It opens a WebSocket to the Realtime endpoint and exchanges JSON events.
// The Realtime API expects 24 kHz PCM16 input, so 16 kHz microphone payloads
// are resampled before they are appended to the input buffer. Server events
// are translated into s2s events in the order they arrive.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fit4rcex/coach/pkg/audio"
	"github.com/fit4rcex/coach/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	defaultHandshakeTimeout = 10 * time.Second
	transcriptionModel      = "whisper-1"

	// realtimeSampleRate is the PCM16 rate used in both directions.
	realtimeSampleRate = 24000
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHandshakeTimeout bounds how long Connect waits for session.updated.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Provider) { p.handshakeTimeout = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey           string
	model            string
	baseURL          string
	handshakeTimeout time.Duration
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:           apiKey,
		model:            defaultModel,
		baseURL:          defaultBaseURL,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
// InputSampleRate reports the capture rate callers should send; the session
// resamples to the wire rate itself.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:    audio.CaptureSampleRate,
		OutputSampleRate:   realtimeSampleRate,
		MaxSessionDuration: 30 * time.Minute,
		Voices: []s2s.Voice{
			{ID: "alloy", Name: "Alloy"},
			{ID: "ash", Name: "Ash"},
			{ID: "ballad", Name: "Ballad"},
			{ID: "coral", Name: "Coral"},
			{ID: "echo", Name: "Echo"},
			{ID: "sage", Name: "Sage"},
			{ID: "shimmer", Name: "Shimmer"},
			{ID: "verse", Name: "Verse"},
		},
	}
}

// Connect dials the Realtime endpoint, sends session.update and waits for
// session.updated. Errors before the acknowledgement wrap s2s.ErrHandshake.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	hsCtx, hsCancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer hsCancel()

	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)
	conn, _, err := websocket.Dial(hsCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w: dial: %w", s2s.ErrHandshake, err)
	}
	conn.SetReadLimit(8 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan s2s.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.handshake(hsCtx, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: %w: %w", s2s.ErrHandshake, err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string                `json:"voice,omitempty"`
	Instructions            string                `json:"instructions,omitempty"`
	Tools                   []oaiTool             `json:"tools,omitempty"`
	InputAudioFormat        string                `json:"input_audio_format"`
	OutputAudioFormat       string                `json:"output_audio_format"`
	InputAudioTranscription *inputTranscription   `json:"input_audio_transcription,omitempty"`
	Modalities              []string              `json:"modalities,omitempty"`
	TurnDetection           *turnDetectionOptions `json:"turn_detection,omitempty"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

type turnDetectionOptions struct {
	Type string `json:"type"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// handshake configures the session and blocks until session.updated.
func (s *session) handshake(ctx context.Context, cfg s2s.SessionConfig) error {
	if err := s.writeJSONCtx(ctx, buildSessionUpdate(cfg)); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await session.updated: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			return toServiceError(&evt)
		}
	}
}

func buildSessionUpdate(cfg s2s.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		Modalities:        []string{"audio", "text"},
		TurnDetection:     &turnDetectionOptions{Type: "server_vad"},
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toOAITools(cfg.Tools)
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &inputTranscription{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

func (s *session) writeJSON(v any) error {
	return s.writeJSONCtx(s.ctx, v)
}

// writeJSONCtx marshals v and writes it as a text WebSocket message.
func (s *session) writeJSONCtx(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and translates them. It owns
// the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed event", "err", err)
			continue
		}

		if out, ok := translate(&evt); ok {
			select {
			case s.events <- out:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// translate maps one Realtime server event to an s2s event. Events the
// session does not surface report false.
func translate(evt *serverEvent) (s2s.Event, bool) {
	switch evt.Type {
	case "response.audio.delta":
		data, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(data) == 0 {
			return nil, false
		}
		return s2s.AudioChunk{Data: data, SampleRate: realtimeSampleRate, Channels: 1}, true

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return nil, false
		}
		return s2s.OutputTranscript{Text: evt.Delta}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return nil, false
		}
		return s2s.InputTranscript{Text: evt.Transcript}, true

	case "input_audio_buffer.speech_started":
		// Server VAD detected the user talking over the model.
		return s2s.Interrupted{}, true

	case "response.done":
		return s2s.TurnComplete{}, true

	case "response.function_call_arguments.done":
		var args map[string]any
		if evt.Arguments != "" {
			if err := json.Unmarshal([]byte(evt.Arguments), &args); err != nil {
				slog.Warn("openai: unparseable function arguments", "name", evt.Name, "err", err)
			}
		}
		return s2s.ToolCall{Calls: []s2s.FunctionCall{
			{ID: evt.CallID, Name: evt.Name, Args: args},
		}}, true

	case "error":
		return toServiceError(evt), true
	}
	return nil, false
}

func toServiceError(evt *serverEvent) s2s.ServiceError {
	se := s2s.ServiceError{Message: "unknown error"}
	if evt.Error != nil {
		se.Status = evt.Error.Code
		if evt.Error.Message != "" {
			se.Message = evt.Error.Message
		}
	}
	return se
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// toOAITools converts tool declarations to OpenAI Realtime tool format.
func toOAITools(tools []s2s.ToolDeclaration) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── Session methods ───────────────────────────────────────────────────────────

// SendRealtimeInput resamples blob to 24 kHz if needed and appends it to the
// input audio buffer.
func (s *session) SendRealtimeInput(blob audio.Blob) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	pcm := blob.Data
	if blob.SampleRate > 0 && blob.SampleRate != realtimeSampleRate {
		frame := audio.DecodeIncomingFrame(pcm, blob.SampleRate, 1)
		up := audio.ResampleLinear(frame.Mono(), blob.SampleRate, realtimeSampleRate)
		pcm = audio.EncodeOutgoingFrame(up, audio.NominalGain).Data
	}
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendToolResponse submits the function output and asks the model to
// continue.
func (s *session) SendToolResponse(resp s2s.ToolResponse) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	out, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("openai: marshal tool result: %w", err)
	}
	if err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: resp.ID,
			Output: string(out),
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
