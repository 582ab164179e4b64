package stream

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/streamcast/backend/telemetry"
)

// Provider webhook event types. Delivery is at-least-once, so every transition
// below is a state-checked no-op when the broadcaster is already in the target state.
const (
	EventStreamStarted = "stream.started"
	EventStreamIdle    = "stream.idle"
	EventStreamCreated = "stream.created"
	EventStreamDeleted = "stream.deleted"
)

// ApplyProviderEvent applies an asynchronous lifecycle notification keyed by the
// provider's external stream id.
//
// The live flag is authoritative for "is this user live"; the session row is
// bookkeeping for chat scoping. On the webhook path a session insert/close failure
// is logged and swallowed rather than aborting the flag update — sends during that
// window fail closed with ErrNoActiveSession instead of attaching to a stale session.
func (s *Store) ApplyProviderEvent(ctx context.Context, eventType, providerStreamID string) error {
	telemetry.CountWebhookEvent(eventType)

	var userID int64
	var isLive bool
	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_live FROM users WHERE provider_stream_id=$1`, providerStreamID).
		Scan(&userID, &isLive)
	if err == sql.ErrNoRows {
		return fmt.Errorf("provider stream %q: %w", providerStreamID, ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("resolve provider stream: %w", err)
	}

	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "stream_events"),
		slog.String("event", eventType),
		slog.Int64("user_id", userID),
	)

	switch eventType {
	case EventStreamStarted:
		if isLive {
			log.Debug("duplicate started event; no-op")
			return nil
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE users SET is_live=TRUE, updated_at=NOW() WHERE id=$1`, userID); err != nil {
			return fmt.Errorf("set live flag: %w", err)
		}
		// Best-effort session bookkeeping; the unique index absorbs races with a
		// concurrent manual start.
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO stream_sessions (user_id, provider_session_ref, started_at)
			 VALUES ($1, $2, NOW())
			 ON CONFLICT (user_id) WHERE ended_at IS NULL DO NOTHING`,
			userID, providerStreamID); err != nil {
			log.Warn("session insert failed; broadcaster live without session", slog.Any("err", err))
		} else if telemetry.SessionsStarted != nil {
			telemetry.SessionsStarted.Inc()
		}
	case EventStreamIdle:
		if !isLive {
			log.Debug("duplicate idle event; no-op")
			return nil
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE users SET is_live=FALSE, updated_at=NOW() WHERE id=$1`, userID); err != nil {
			return fmt.Errorf("clear live flag: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE stream_sessions SET ended_at=NOW() WHERE user_id=$1 AND ended_at IS NULL`,
			userID); err != nil {
			log.Warn("session close failed; janitor will reap", slog.Any("err", err))
		} else if telemetry.SessionsEnded != nil {
			telemetry.SessionsEnded.Inc()
		}
	case EventStreamCreated:
		// Provisioning confirmation; refs were written when we created the stream.
		log.Debug("stream created acknowledged")
	case EventStreamDeleted:
		if _, err := s.db.ExecContext(ctx, `
			UPDATE users SET is_live=FALSE, playback_ref=NULL, provider_stream_id=NULL,
			       stream_key=NULL, updated_at=NOW() WHERE id=$1`, userID); err != nil {
			return fmt.Errorf("clear provisioning: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE stream_sessions SET ended_at=NOW() WHERE user_id=$1 AND ended_at IS NULL`,
			userID); err != nil {
			log.Warn("session close failed on delete", slog.Any("err", err))
		}
	default:
		log.Debug("ignoring unknown provider event type")
	}
	return nil
}
