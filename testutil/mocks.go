package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockProviderServer creates a test server that mocks the video provider API.
type MockProviderServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockProviderServer creates a new mock provider API server.
func NewMockProviderServer(t *testing.T) *MockProviderServer {
	t.Helper()
	m := &MockProviderServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockCreateStream adds a handler for stream provisioning.
func (m *MockProviderServer) MockCreateStream(id, playbackRef, streamKey string) {
	m.Handlers["POST /stream"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"id":         id,
			"playbackId": playbackRef,
			"streamKey":  streamKey,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockGetStream adds a handler returning stream status for an id.
func (m *MockProviderServer) MockGetStream(id string, active bool) {
	m.Handlers["GET /stream/"+id] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"id":       id,
			"isActive": active,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockTerminateStream adds a handler for stream termination.
func (m *MockProviderServer) MockTerminateStream(id string) {
	m.Handlers["DELETE /stream/"+id] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
