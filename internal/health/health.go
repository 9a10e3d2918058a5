// Package health serves the liveness and readiness endpoints.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz runs
// every registered [Checker] concurrently and answers 503 if any of them
// fails. Both respond with a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and must respect ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string        `json:"status"`
	Uptime string        `json:"uptime,omitempty"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Error   string  `json:"error,omitempty"`
	Elapsed float64 `json:"elapsed_ms"`
}

// Handler serves both endpoints. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a Handler running checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200 with the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz answers 200 when every checker passes and 503 otherwise. Results
// keep the registration order.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]CheckResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() { results[i] = run(r.Context(), c) })
	}
	wg.Wait()

	report := Report{Status: "ok", Checks: results}
	code := http.StatusOK
	for _, res := range results {
		if res.Status != "ok" {
			report.Status = "fail"
			code = http.StatusServiceUnavailable
			slog.Warn("readiness check failed", "check", res.Name, "err", res.Error)
		}
	}
	writeJSON(w, code, report)
}

func run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{
		Name:    c.Name,
		Status:  "ok",
		Elapsed: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = "fail"
		res.Error = err.Error()
	}
	return res
}

// Configured returns a checker for a dependency fixed at startup: it fails
// with reason when ok is false.
func Configured(name string, ok bool, reason string) Checker {
	err := errors.New(reason)
	return Func(name, func() error {
		if ok {
			return nil
		}
		return err
	})
}

// Func adapts a context-free check into a [Checker].
func Func(name string, check func() error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return check() }}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: encode response", "err", err)
	}
}
