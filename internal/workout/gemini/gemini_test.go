package gemini_test

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
	"github.com/fit4rcex/coach/internal/workout/gemini"
)

type captured struct {
	mu     sync.Mutex
	path   string
	apiKey string
	body   map[string]any
}

// startServer answers generateContent calls with reply as the model text.
func startServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.path = r.URL.Path
		c.apiKey = r.Header.Get("x-goog-api-key")
		c.body = body
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				map[string]any{
					"content": map[string]any{
						"role":  "model",
						"parts": []any{map[string]any{"text": reply}},
					},
					"finishReason": "STOP",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := gemini.New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	srv, c := startServer(t, http.StatusOK, `{"title":"Push","description":"Chest day","exercises":[{"name":"Push-up","description":"Strict","reps":12}]}`)
	g, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL), gemini.WithModel("gemini-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != "gemini" {
		t.Errorf("Name() = %q", g.Name())
	}

	plan, err := g.Generate(context.Background(), "chest workout", "it")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if plan.Title != "Push" || len(plan.Exercises) != 1 || plan.Exercises[0].Reps != 12 {
		t.Errorf("plan = %+v", plan)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.Contains(c.path, "gemini-test:generateContent") {
		t.Errorf("path = %q", c.path)
	}
	if c.apiKey != "test-key" {
		t.Errorf("api key header = %q", c.apiKey)
	}
	gc, _ := c.body["generationConfig"].(map[string]any)
	if gc["responseMimeType"] != "application/json" {
		t.Errorf("generationConfig = %v", gc)
	}
	if _, ok := gc["responseSchema"]; !ok {
		t.Error("responseSchema not sent")
	}
	raw, _ := json.Marshal(c.body["systemInstruction"])
	if !strings.Contains(string(raw), `\"it\"`) {
		t.Errorf("system instruction does not carry the language: %s", raw)
	}
}

func TestGenerate_EmptyPlan(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, http.StatusOK, `{"title":"x","description":"y","exercises":[]}`)
	g, err := gemini.New(context.Background(), "k", gemini.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate(context.Background(), "p", "en"); !errors.Is(err, workout.ErrEmptyPlan) {
		t.Errorf("err = %v, want ErrEmptyPlan", err)
	}
}

func TestGenerate_HTTPError(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, http.StatusBadRequest, "")
	g, err := gemini.New(context.Background(), "k", gemini.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate(context.Background(), "p", "en"); err == nil {
		t.Fatal("expected error")
	}
}
