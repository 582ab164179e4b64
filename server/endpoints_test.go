package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/streamcast/backend/testutil"
)

func TestCORS(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Errorf("OPTIONS request status = %d, want %d or %d", resp.StatusCode, http.StatusNoContent, http.StatusOK)
	}

	headers := []string{
		"Access-Control-Allow-Origin",
		"Access-Control-Allow-Methods",
		"Access-Control-Allow-Headers",
	}
	for _, h := range headers {
		if resp.Header.Get(h) == "" {
			t.Errorf("missing CORS header: %s", h)
		}
	}
}

func TestHealthzEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestReadyzEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("readyz status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if len(body) == 0 {
		t.Error("metrics returned empty response")
	}
}

func TestCorrelationIDEcho(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation header = %q, want corr-123", got)
	}
}

func TestChatPostRateLimited(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "1")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "60")
	handler := NewMux(context.Background(), db, nil)

	// First request passes the limiter (and fails validation downstream).
	w := postJSON(t, handler, http.MethodPost, "/chat", map[string]string{})
	if w.Code == http.StatusTooManyRequests {
		t.Fatalf("first request already limited")
	}
	w = postJSON(t, handler, http.MethodPost, "/chat", map[string]string{})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", w.Code)
	}

	// Reads are never throttled.
	req := httptest.NewRequest(http.MethodGet, "/chat?playbackRef=pb-any", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusTooManyRequests {
		t.Errorf("GET /chat was rate limited")
	}
}
