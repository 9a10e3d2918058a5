package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fit4rcex/coach/internal/workout"
)

func TestBuildParams(t *testing.T) {
	params := buildParams("gpt-test", "leg day", "pt")

	if string(params.Model) != "gpt-test" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("second message should be the user prompt")
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("JSON object response format not requested")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
	g, err := New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.model != DefaultModel {
		t.Errorf("model = %q, want %q", g.model, DefaultModel)
	}
}

type captured struct {
	mu   sync.Mutex
	auth string
	body map[string]any
}

func startServer(t *testing.T, status int, content string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.auth = r.Header.Get("Authorization")
		c.body = body
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-test",
			"choices": []any{
				map[string]any{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestGenerate(t *testing.T) {
	srv, c := startServer(t, http.StatusOK, `{"title":"Run","description":"Intervals","exercises":[{"name":"Sprint","description":"30s","durationSeconds":30}]}`)
	g, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"), WithModel("gpt-test"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != "openai" {
		t.Errorf("Name() = %q", g.Name())
	}

	plan, err := g.Generate(context.Background(), "cardio", "en")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if plan.Title != "Run" || plan.Exercises[0].DurationSeconds != 30 {
		t.Errorf("plan = %+v", plan)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", c.auth)
	}
	rf, _ := c.body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", c.body["response_format"])
	}
}

func TestGenerate_EmptyContent(t *testing.T) {
	srv, _ := startServer(t, http.StatusOK, "")
	g, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate(context.Background(), "p", "en"); !errors.Is(err, workout.ErrEmptyPlan) {
		t.Errorf("err = %v, want ErrEmptyPlan", err)
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv, _ := startServer(t, http.StatusInternalServerError, "")
	g, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate(context.Background(), "p", "en"); err == nil {
		t.Fatal("expected error")
	}
}
