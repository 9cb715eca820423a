package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, New([]Checker{{Name: "rules", Check: failWith("down")}}), "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("got %d %v, want 200 ok even with failing checkers", rec.Code, body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "rules", Check: ok}, {Name: "history", Check: ok}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"rules": "ok", "history": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "rules", Check: ok}, {Name: "history", Check: failWith("connection refused")}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"rules": "ok", "history": "fail: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, body := serve(t, New(tt.checkers), "/readyz")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			checks, _ := body["checks"].(map[string]any)
			for name, want := range tt.wantChecks {
				if checks[name] != want {
					t.Errorf("check %s = %v, want %q", name, checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()

	var running atomic.Int32
	both := make(chan struct{})
	check := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	rec, _ := serve(t, New([]Checker{{Name: "a", Check: check}, {Name: "b", Check: check}}), "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d; checks did not overlap", rec.Code)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestLegacy(t *testing.T) {
	t.Parallel()

	h := New(nil, WithActiveClients(func() int { return 3 }))
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	rec, body := serve(t, h, "/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	if body["active_clients"] != float64(3) {
		t.Errorf("active_clients = %v, want 3", body["active_clients"])
	}
	if body["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
}
