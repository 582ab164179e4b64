package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/streamcast/backend/stream"
	"github.com/onnwee/streamcast/backend/telemetry"
)

type walletBody struct {
	Wallet string `json:"wallet"`
}

// HandleStreamStart starts (POST) or stops (DELETE) a broadcast, keyed by the
// broadcaster's wallet.
func (h *Handlers) HandleStreamStart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleStreamGoLive(w, r)
	case http.MethodDelete:
		h.handleStreamGoOffline(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handlers) handleStreamGoLive(w http.ResponseWriter, r *http.Request) {
	var body walletBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Wallet == "" {
		writeError(w, http.StatusBadRequest, "Missing wallet")
		return
	}
	ctx := r.Context()
	b, err := h.streams.BroadcasterByWallet(ctx, body.Wallet)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		internalError(w, r, "resolve broadcaster", err)
		return
	}
	if b.PlaybackRef == "" {
		writeError(w, http.StatusNotFound, "Stream not configured for this user")
		return
	}

	sess, err := h.streams.GoLive(ctx, b.UserID)
	if err != nil {
		if errors.Is(err, stream.ErrAlreadyLive) {
			writeError(w, http.StatusConflict, "Stream is already live")
			return
		}
		internalError(w, r, "go live", err)
		return
	}
	if err := h.cache.Invalidate(ctx, b.PlaybackRef); err != nil {
		telemetry.LoggerWithCorr(ctx).Debug("cache invalidate failed", slog.Any("err", err))
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": sess.ID,
		"startedAt": sess.StartedAt,
	})
}

func (h *Handlers) handleStreamGoOffline(w http.ResponseWriter, r *http.Request) {
	var body walletBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Wallet == "" {
		writeError(w, http.StatusBadRequest, "Missing wallet")
		return
	}
	ctx := r.Context()
	b, err := h.streams.BroadcasterByWallet(ctx, body.Wallet)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		internalError(w, r, "resolve broadcaster", err)
		return
	}

	if err := h.streams.GoOffline(ctx, b.UserID); err != nil {
		if errors.Is(err, stream.ErrNotLive) {
			writeError(w, http.StatusConflict, "Stream is not live")
			return
		}
		internalError(w, r, "go offline", err)
		return
	}
	if err := h.cache.Invalidate(ctx, b.PlaybackRef); err != nil {
		telemetry.LoggerWithCorr(ctx).Debug("cache invalidate failed", slog.Any("err", err))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleStreamProvision creates a provider stream for a registered wallet and
// stores the playback reference + stream key.
func (h *Handlers) HandleStreamProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "Stream provisioning is not configured")
		return
	}
	var body walletBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Wallet == "" {
		writeError(w, http.StatusBadRequest, "Missing wallet")
		return
	}
	ctx := r.Context()
	b, err := h.streams.BroadcasterByWallet(ctx, body.Wallet)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		internalError(w, r, "resolve broadcaster", err)
		return
	}

	s, err := h.provider.CreateStream(ctx, b.Username)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("provider create stream", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "Video provider request failed")
		return
	}
	if err := h.streams.SaveProvisioning(ctx, b.UserID, s.PlaybackID, s.ID, s.StreamKey); err != nil {
		internalError(w, r, "save provisioning", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"playbackRef": s.PlaybackID,
		"streamKey":   s.StreamKey,
	})
}

// HandleStreamKey returns a broadcaster's ingest key so they can configure
// their encoder. Keys are decrypted from at-rest storage when encryption is on.
func (h *Handlers) HandleStreamKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "Missing wallet")
		return
	}
	key, err := h.streams.StreamKeyByWallet(r.Context(), wallet)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, stream.ErrUnconfigured):
			writeError(w, http.StatusNotFound, "Stream not configured for this user")
		default:
			internalError(w, r, "stream key", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"streamKey": key})
}
