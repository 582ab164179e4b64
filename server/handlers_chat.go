package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/streamcast/backend/chat"
	"github.com/onnwee/streamcast/backend/livecache"
	"github.com/onnwee/streamcast/backend/stream"
	"github.com/onnwee/streamcast/backend/telemetry"
)

// HandleChat dispatches /chat by method: POST sends, GET lists, DELETE moderates.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleChatPost(w, r)
	case http.MethodGet:
		h.handleChatList(w, r)
	case http.MethodDelete:
		h.handleChatDelete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type chatUserJSON struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet,omitempty"`
}

type chatMessageJSON struct {
	ID          int64        `json:"id"`
	Content     string       `json:"content"`
	MessageType string       `json:"messageType"`
	User        chatUserJSON `json:"user"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// resolveBroadcaster looks up the target of a playback reference, consulting the
// cache first. Cache errors degrade to a DB lookup; only DB errors propagate.
func (h *Handlers) resolveBroadcaster(r *http.Request, playbackRef string) (*stream.Broadcaster, error) {
	ctx := r.Context()
	if b, err := h.cache.GetBroadcaster(ctx, playbackRef); err == nil {
		return b, nil
	} else if !errors.Is(err, livecache.ErrMiss) {
		telemetry.LoggerWithCorr(ctx).Debug("broadcaster cache read failed", slog.Any("err", err))
	}
	b, err := h.streams.BroadcasterByPlaybackRef(ctx, playbackRef)
	if err != nil {
		return nil, err
	}
	if err := h.cache.SetBroadcaster(ctx, b); err != nil {
		telemetry.LoggerWithCorr(ctx).Debug("broadcaster cache write failed", slog.Any("err", err))
	}
	return b, nil
}

func (h *Handlers) handleChatPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Wallet      string `json:"wallet"`
		PlaybackRef string `json:"playbackRef"`
		Content     string `json:"content"`
		MessageType string `json:"messageType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Wallet == "" || body.PlaybackRef == "" {
		telemetry.CountRejectedSend("validation")
		writeError(w, http.StatusBadRequest, "Missing wallet or playbackRef")
		return
	}
	content := strings.TrimSpace(body.Content)
	if content == "" {
		telemetry.CountRejectedSend("validation")
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}
	if len(content) > chat.MaxContentLen {
		telemetry.CountRejectedSend("validation")
		writeError(w, http.StatusBadRequest, "Message content exceeds 500 characters")
		return
	}
	kind := body.MessageType
	if kind == "" {
		kind = chat.KindMessage
	}
	if !chat.ValidKind(kind) {
		telemetry.CountRejectedSend("validation")
		writeError(w, http.StatusBadRequest, "Invalid messageType")
		return
	}

	ctx := r.Context()
	broadcaster, err := h.resolveBroadcaster(r, body.PlaybackRef)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			telemetry.CountRejectedSend("not_found")
			writeError(w, http.StatusNotFound, "User or stream not found")
			return
		}
		internalError(w, r, "resolve broadcaster", err)
		return
	}
	sender, err := h.streams.UserByWallet(ctx, body.Wallet)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			telemetry.CountRejectedSend("not_found")
			writeError(w, http.StatusNotFound, "User or stream not found")
			return
		}
		internalError(w, r, "resolve sender", err)
		return
	}

	if !broadcaster.IsLive {
		telemetry.CountRejectedSend("offline")
		writeError(w, http.StatusConflict, "Cannot send message to offline stream")
		return
	}

	sessionID, err := h.streams.ResolveOpenSession(ctx, broadcaster.UserID)
	if err != nil {
		if errors.Is(err, stream.ErrNoActiveSession) {
			// Live flag flipped but the session row is not yet visible (go-live
			// race or failed webhook bookkeeping). Fail closed; clients retry.
			telemetry.CountRejectedSend("no_session")
			writeError(w, http.StatusNotFound, "No active stream session")
			return
		}
		internalError(w, r, "resolve session", err)
		return
	}

	msg, err := h.messages.Insert(ctx, sessionID, sender.ID, sender.Username, content, kind)
	if err != nil {
		internalError(w, r, "insert message", err)
		return
	}
	writeJSON(w, http.StatusCreated, chatMessageJSON{
		ID:          msg.ID,
		Content:     msg.Content,
		MessageType: msg.Type,
		User:        chatUserJSON{Username: sender.Username, Wallet: sender.Wallet},
		CreatedAt:   msg.CreatedAt,
	})
}

func (h *Handlers) handleChatList(w http.ResponseWriter, r *http.Request) {
	playbackRef := r.URL.Query().Get("playbackRef")
	if playbackRef == "" {
		writeError(w, http.StatusBadRequest, "Missing playbackRef")
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	beforeID := parseInt64Query(r, "before", 0)

	ctx := r.Context()
	empty := map[string]any{"messages": []chatMessageJSON{}}

	broadcaster, err := h.resolveBroadcaster(r, playbackRef)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			// Unknown or unprovisioned target reads as "no conversation", not a failure.
			writeJSON(w, http.StatusOK, empty)
			return
		}
		internalError(w, r, "resolve broadcaster", err)
		return
	}
	sessionID, err := h.streams.ResolveOpenSession(ctx, broadcaster.UserID)
	if err != nil {
		if errors.Is(err, stream.ErrNoActiveSession) {
			writeJSON(w, http.StatusOK, empty)
			return
		}
		internalError(w, r, "resolve session", err)
		return
	}

	var msgs []chat.Message
	telemetry.TimeFunc(telemetry.ChatListDuration, func() {
		msgs, err = h.messages.ListBefore(ctx, sessionID, limit, beforeID)
	})
	if err != nil {
		internalError(w, r, "list messages", err)
		return
	}
	out := make([]chatMessageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessageJSON{
			ID:          m.ID,
			Content:     m.Content,
			MessageType: m.Type,
			User:        chatUserJSON{Username: m.Username},
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *Handlers) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageID       int64  `json:"messageId"`
		ModeratorWallet string `json:"moderatorWallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.MessageID == 0 || body.ModeratorWallet == "" {
		writeError(w, http.StatusBadRequest, "Missing messageId or moderatorWallet")
		return
	}

	ctx := r.Context()
	actor, err := h.streams.UserByWallet(ctx, body.ModeratorWallet)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "Moderator not found")
			return
		}
		internalError(w, r, "resolve moderator", err)
		return
	}

	if err := h.messages.SoftDelete(ctx, body.MessageID, actor.ID); err != nil {
		switch {
		case errors.Is(err, chat.ErrMessageNotFound):
			writeError(w, http.StatusNotFound, "Message not found or already deleted")
		case errors.Is(err, chat.ErrForbidden):
			writeError(w, http.StatusForbidden, "Only the message author or stream owner can delete messages")
		default:
			internalError(w, r, "delete message", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
