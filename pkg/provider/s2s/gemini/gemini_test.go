package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fit4rcex/coach/pkg/audio"
	"github.com/fit4rcex/coach/pkg/provider/s2s"
	"github.com/fit4rcex/coach/pkg/provider/s2s/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup reads the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// idle blocks until the client closes the connection.
func idle(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key",
		gemini.WithBaseURL(wsURL(srv)),
		gemini.WithHandshakeTimeout(2*time.Second),
	)
}

// connect opens a session and registers Close as cleanup.
func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.Session {
	t.Helper()
	sess, err := newProvider(srv).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// nextEvent waits for the next event.
func nextEvent(t *testing.T, sess s2s.Session) s2s.Event {
	t.Helper()
	select {
	case evt, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupShape struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name string `json:"name"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputAudioTranscription  *json.RawMessage `json:"inputAudioTranscription"`
			OutputAudioTranscription *json.RawMessage `json:"outputAudioTranscription"`
		} `json:"setup"`
	}
	setupCh := make(chan setupShape, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupShape
		readJSON(t, conn, &msg)
		setupCh <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		idle(conn)
	})

	sess, err := gemini.New("key",
		gemini.WithBaseURL(wsURL(srv)),
		gemini.WithModel("custom-model"),
	).Connect(context.Background(), s2s.SessionConfig{
		Voice:               "Puck",
		Instructions:        "You are a coach.",
		Tools:               []s2s.ToolDeclaration{{Name: "startWorkoutGeneration"}},
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	msg := <-setupCh
	s := msg.Setup
	if s.Model != "models/custom-model" {
		t.Errorf("model = %q", s.Model)
	}
	if len(s.GenerationConfig.ResponseModalities) != 1 || s.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", s.GenerationConfig.ResponseModalities)
	}
	if v := s.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Puck" {
		t.Errorf("voice = %q", v)
	}
	if len(s.SystemInstruction.Parts) != 1 || s.SystemInstruction.Parts[0].Text != "You are a coach." {
		t.Errorf("systemInstruction = %+v", s.SystemInstruction)
	}
	if len(s.Tools) != 1 || s.Tools[0].FunctionDeclarations[0].Name != "startWorkoutGeneration" {
		t.Errorf("tools = %+v", s.Tools)
	}
	if s.InputAudioTranscription == nil || s.OutputAudioTranscription == nil {
		t.Error("transcription options missing from setup")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	keyCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		acceptSetup(t, conn)
		idle(conn)
	})

	connect(t, srv, s2s.SessionConfig{})
	if got := <-keyCh; got != "test-api-key" {
		t.Errorf("key = %q, want test-api-key", got)
	}
}

func TestConnect_ErrorBeforeSetupComplete_IsHandshakeError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 403, "message": "API key invalid", "status": "PERMISSION_DENIED"},
		})
	})

	_, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
	var se s2s.ServiceError
	if !errors.As(err, &se) || se.Code != 403 {
		t.Errorf("err = %v, want wrapped ServiceError 403", err)
	}
}

func TestConnect_ServerClosesDuringSetup_IsHandshakeError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		conn.Close(websocket.StatusPolicyViolation, "quota")
	})

	_, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
}

func TestConnect_DialFailure_IsHandshakeError(t *testing.T) {
	t.Parallel()

	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	_, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		idle(conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newProvider(srv).Connect(ctx, s2s.SessionConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := gemini.New("k").Capabilities()
	if caps.InputSampleRate != 16000 || caps.OutputSampleRate != 24000 {
		t.Errorf("rates = %d/%d", caps.InputSampleRate, caps.OutputSampleRate)
	}
	if len(caps.Voices) == 0 {
		t.Error("no voices")
	}
}

// ── Outgoing ──────────────────────────────────────────────────────────────────

func TestSendRealtimeInput_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type audioShape struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	audioMsg := make(chan audioShape, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg audioShape
		readJSON(t, conn, &msg)
		audioMsg <- msg
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	blob := audio.EncodeOutgoingFrame([]float32{0.1, -0.1}, audio.CaptureGain)
	if err := sess.SendRealtimeInput(blob); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("chunks = %d, want 1", len(chunks))
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q", chunks[0].MIMEType)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(blob.Data) {
			t.Errorf("decoded audio = %v, want %v", got, blob.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSendToolResponse(t *testing.T) {
	t.Parallel()

	type respShape struct {
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}
	respCh := make(chan respShape, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg respShape
		readJSON(t, conn, &msg)
		respCh <- msg
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	err := sess.SendToolResponse(s2s.ToolResponse{
		ID:     "call-1",
		Name:   "startWorkoutGeneration",
		Result: map[string]any{"result": "ok"},
	})
	if err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	msg := <-respCh
	frs := msg.ToolResponse.FunctionResponses
	if len(frs) != 1 || frs[0].ID != "call-1" || frs[0].Name != "startWorkoutGeneration" {
		t.Fatalf("functionResponses = %+v", frs)
	}
	if frs[0].Response["result"] != "ok" {
		t.Errorf("response = %v", frs[0].Response)
	}
}

func TestSend_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.SendRealtimeInput(audio.Blob{Data: []byte{1, 2}}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendRealtimeInput after Close = %v, want ErrSessionClosed", err)
	}
	if err := sess.SendToolResponse(s2s.ToolResponse{Name: "x"}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendToolResponse after Close = %v, want ErrSessionClosed", err)
	}
}

func TestConcurrentSendRealtimeInput_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = sess.SendRealtimeInput(audio.Blob{Data: []byte{0, 0}})
			}
		}()
	}
	wg.Wait()
}

// ── Incoming ──────────────────────────────────────────────────────────────────

func TestEvents_ServerContentOrder(t *testing.T) {
	t.Parallel()

	pcm := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "I want"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "Sure"},
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						}},
					},
				},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"interrupted": true},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
		})
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})

	if evt, ok := nextEvent(t, sess).(s2s.InputTranscript); !ok || evt.Text != "I want" {
		t.Errorf("event 1 = %#v, want InputTranscript", evt)
	}
	if evt, ok := nextEvent(t, sess).(s2s.OutputTranscript); !ok || evt.Text != "Sure" {
		t.Errorf("event 2 = %#v, want OutputTranscript", evt)
	}
	chunk, ok := nextEvent(t, sess).(s2s.AudioChunk)
	if !ok {
		t.Fatalf("event 3 is not AudioChunk")
	}
	if string(chunk.Data) != string(pcm) || chunk.SampleRate != 24000 || chunk.Channels != 1 {
		t.Errorf("audio chunk = %+v", chunk)
	}
	if _, ok := nextEvent(t, sess).(s2s.Interrupted); !ok {
		t.Error("event 4 is not Interrupted")
	}
	if _, ok := nextEvent(t, sess).(s2s.TurnComplete); !ok {
		t.Error("event 5 is not TurnComplete")
	}
}

func TestEvents_ToolCall(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []map[string]any{
					{
						"id":   "fc-1",
						"name": "startWorkoutGeneration",
						"args": map[string]any{"intensity": "high", "equipment": []string{"full_gym"}},
					},
				},
			},
		})
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	tc, ok := nextEvent(t, sess).(s2s.ToolCall)
	if !ok {
		t.Fatal("event is not ToolCall")
	}
	if len(tc.Calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(tc.Calls))
	}
	fc := tc.Calls[0]
	if fc.ID != "fc-1" || fc.Name != "startWorkoutGeneration" || fc.Args["intensity"] != "high" {
		t.Errorf("call = %+v", fc)
	}
}

func TestEvents_ServiceError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 500, "message": "internal"},
		})
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	se, ok := nextEvent(t, sess).(s2s.ServiceError)
	if !ok || se.Code != 500 || se.Message != "internal" {
		t.Errorf("event = %#v, want ServiceError 500", se)
	}
}

func TestEvents_MalformedFrameSkipped(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	if _, ok := nextEvent(t, sess).(s2s.TurnComplete); !ok {
		t.Error("expected TurnComplete after malformed frame")
	}
}

func TestEvents_TransportErrorSetsErr(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusInternalError, "boom")
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed")
	}
	if sess.Err() == nil {
		t.Error("Err() = nil after abnormal close")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	for i := range 3 {
		if err := sess.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
}

func TestClose_ClosesEventsWithoutError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		idle(conn)
	})

	sess := connect(t, srv, s2s.SessionConfig{})
	sess.Close()

	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Fatal("unexpected event after Close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err() = %v after clean Close", err)
	}
}
