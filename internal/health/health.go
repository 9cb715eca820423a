// Package health serves the liveness and readiness probes of the tutoring
// server.
//
//   - /healthz is liveness and always answers 200.
//   - /readyz runs every registered [Checker] concurrently and answers 200
//     only when all of them pass.
//   - /health is kept for older clients and reports the number of connected
//     learners.
//
// Responses are JSON with a "status" of "ok" or "fail".
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 3 * time.Second

// Checker is one named readiness probe.
type Checker struct {
	// Name labels the check in the response, e.g. "rules" or "history".
	Name string

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type legacyResult struct {
	Status        string    `json:"status"`
	ActiveClients int       `json:"active_clients"`
	Timestamp     time.Time `json:"timestamp"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	clients  func() int
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithActiveClients reports fn's value as active_clients on /health.
func WithActiveClients(fn func() int) Option {
	return func(h *Handler) { h.clients = fn }
}

// New creates a Handler evaluating checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Legacy answers the /health probe older clients poll.
func (h *Handler) Legacy(w http.ResponseWriter, _ *http.Request) {
	res := legacyResult{Status: "ok", Timestamp: h.now().UTC()}
	if h.clients != nil {
		res.ActiveClients = h.clients()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz runs the checkers in parallel, each under its own timeout derived
// from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res, status := result{Status: "ok", Checks: checks}, http.StatusOK
	if failed {
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /health", h.Legacy)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
