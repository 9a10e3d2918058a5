// Package gemini implements the s2s.Provider interface for Google's Gemini
// Live API.
//
// It opens a bidirectional WebSocket to the BidiGenerateContent endpoint and
// exchanges JSON messages. Microphone audio is sent as base64 PCM in
// realtimeInput messages; every serverContent, toolCall and error message is
// translated into s2s events in the order it arrives.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
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
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	defaultHandshakeTimeout = 10 * time.Second
	keepaliveInterval       = 20 * time.Second
	keepaliveTimeout        = 5 * time.Second

	outputSampleRate = 24000
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHandshakeTimeout bounds how long Connect waits for setupComplete.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Provider) { p.handshakeTimeout = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey           string
	model            string
	baseURL          string
	handshakeTimeout time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
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

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:    audio.CaptureSampleRate,
		OutputSampleRate:   outputSampleRate,
		MaxSessionDuration: 15 * time.Minute,
		Voices: []s2s.Voice{
			{ID: "Aoede", Name: "Aoede"},
			{ID: "Charon", Name: "Charon"},
			{ID: "Fenrir", Name: "Fenrir"},
			{ID: "Kore", Name: "Kore"},
			{ID: "Puck", Name: "Puck"},
			{ID: "Zephyr", Name: "Zephyr"},
		},
	}
}

// Connect dials the Live endpoint, sends the setup message and waits for
// setupComplete. Errors before the acknowledgement wrap s2s.ErrHandshake.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	hsCtx, hsCancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer hsCancel()

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(hsCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w: dial: %w", s2s.ErrHandshake, err)
	}
	conn.SetReadLimit(8 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan s2s.Event, 64),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.handshake(hsCtx, p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: %w: %w", s2s.ErrHandshake, err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool       `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete        *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent        *serverContent   `json:"serverContent,omitempty"`
	ToolCall             *toolCallMsg     `json:"toolCall,omitempty"`
	ToolCallCancellation *json.RawMessage `json:"toolCallCancellation,omitempty"`
	GoAway               *json.RawMessage `json:"goAway,omitempty"`
	Error                *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// handshake sends the setup message and blocks until setupComplete arrives.
func (s *session) handshake(ctx context.Context, model string, cfg s2s.SessionConfig) error {
	if err := s.writeJSONCtx(ctx, buildSetup(model, cfg)); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return toServiceError(msg.Error)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func buildSetup(model string, cfg s2s.SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

func (s *session) writeJSON(v any) error {
	return s.writeJSONCtx(s.ctx, v)
}

// writeJSONCtx marshals v and writes it as a text WebSocket message.
func (s *session) writeJSONCtx(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and translates them into
// events. It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if !s.dispatch(&msg) {
			return
		}
	}
}

// dispatch emits the events carried by msg. It returns false once the
// session context is done.
func (s *session) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		if !s.emit(toServiceError(msg.Error)) {
			return false
		}
	}
	if msg.ServerContent != nil {
		for _, evt := range contentEvents(msg.ServerContent) {
			if !s.emit(evt) {
				return false
			}
		}
	}
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		calls := make([]s2s.FunctionCall, len(msg.ToolCall.FunctionCalls))
		for i, fc := range msg.ToolCall.FunctionCalls {
			calls[i] = s2s.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}
		if !s.emit(s2s.ToolCall{Calls: calls}) {
			return false
		}
	}
	if msg.GoAway != nil {
		slog.Info("gemini: server announced disconnect", "detail", string(*msg.GoAway))
	}
	return true
}

// contentEvents flattens one serverContent message. Transcripts come first,
// then audio, then the interruption and turn boundary signals.
func contentEvents(sc *serverContent) []s2s.Event {
	var out []s2s.Event
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, s2s.InputTranscript{Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, s2s.OutputTranscript{Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			out = append(out, s2s.AudioChunk{
				Data:       data,
				SampleRate: audio.RateFromMIME(p.InlineData.MIMEType, outputSampleRate),
				Channels:   1,
			})
		}
	}
	if sc.Interrupted {
		out = append(out, s2s.Interrupted{})
	}
	if sc.TurnComplete {
		out = append(out, s2s.TurnComplete{})
	}
	return out
}

func toServiceError(ge *geminiError) s2s.ServiceError {
	msg := ge.Message
	if msg == "" {
		msg = "unknown error"
	}
	return s2s.ServiceError{Code: ge.Code, Status: ge.Status, Message: msg}
}

func (s *session) emit(evt s2s.Event) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
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

// ── Session methods ───────────────────────────────────────────────────────────

// SendRealtimeInput streams one PCM payload (16 kHz, s16le, mono).
func (s *session) SendRealtimeInput(blob audio.Blob) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = audio.CaptureMIMEType
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{
				{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(blob.Data)},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendToolResponse answers a function call.
func (s *session) SendToolResponse(resp s2s.ToolResponse) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	result := resp.Result
	if result == nil {
		result = map[string]any{}
	}
	return s.writeJSON(toolResponseMessage{
		ToolResponse: toolResponse{
			FunctionResponses: []functionResponse{
				{ID: resp.ID, Name: resp.Name, Response: result},
			},
		},
	})
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

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	err := s.conn.Close(websocket.StatusNormalClosure, "session closed")
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("gemini: close", "err", err)
	}
	return nil
}
