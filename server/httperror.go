package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/streamcast/backend/telemetry"
)

// writeError sends a JSON error body with a human-readable message. Raw store
// errors never reach the client; callers map failures onto the taxonomy
// (validation 400, not-found 404, state-conflict 409, authorization 403,
// transient-infra 500) before calling this.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJSON sends a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// internalError logs the underlying cause with correlation and returns a generic 500.
func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	telemetry.LoggerWithCorr(r.Context()).Error(op, slog.Any("err", err), slog.String("component", "http"))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
