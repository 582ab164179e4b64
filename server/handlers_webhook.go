package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/streamcast/backend/provider"
	"github.com/onnwee/streamcast/backend/stream"
	"github.com/onnwee/streamcast/backend/telemetry"
)

const maxWebhookBody = 64 << 10

// HandleProviderWebhook receives lifecycle notifications from the video provider.
// Delivery is at-least-once, so transitions are state-checked no-ops on replay.
// After the signature check the endpoint answers 200 even when the internal update
// was a no-op or the bookkeeping failed; failing the response would only trigger
// provider redelivery of an event we already cannot apply.
func (h *Handlers) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable body")
		return
	}
	if !provider.VerifySignature(h.webhookSecret, r.Header.Get("X-Provider-Signature"), body) {
		writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}
	ev, err := provider.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Malformed webhook event")
		return
	}

	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "webhook"),
		slog.String("event", ev.Type),
		slog.String("stream_id", ev.Payload.StreamID),
	)

	if err := h.streams.ApplyProviderEvent(ctx, ev.Type, ev.Payload.StreamID); err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			log.Warn("webhook for unknown provider stream")
		} else {
			log.Error("webhook apply failed", slog.Any("err", err))
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	// Advisory telemetry rides along on started events; never gates the response.
	if ev.Type == stream.EventStreamStarted && (ev.Payload.Viewers > 0 || ev.Payload.Bitrate > 0) {
		if ref, err := h.streams.PlaybackRefByProviderStream(ctx, ev.Payload.StreamID); err == nil {
			b, berr := h.streams.BroadcasterByPlaybackRef(ctx, ref)
			if berr == nil {
				if terr := h.streams.RecordTelemetry(ctx, b.UserID, ev.Payload.Viewers, ev.Payload.Bitrate, ev.Payload.Resolution); terr != nil {
					log.Debug("record telemetry failed", slog.Any("err", terr))
				}
			}
		}
	}

	// Live state changed; drop the cached projection so pollers see it now.
	if ref, err := h.streams.PlaybackRefByProviderStream(ctx, ev.Payload.StreamID); err == nil && ref != "" {
		if cerr := h.cache.Invalidate(ctx, ref); cerr != nil {
			log.Debug("cache invalidate failed", slog.Any("err", cerr))
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
