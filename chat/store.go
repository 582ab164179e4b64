package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/streamcast/backend/telemetry"
)

// MaxContentLen is the longest accepted message body.
const MaxContentLen = 500

// Message kinds.
const (
	KindMessage = "message"
	KindEmote   = "emote"
	KindSystem  = "system"
)

var (
	// ErrMessageNotFound is returned when a message is missing or already soft-deleted.
	ErrMessageNotFound = errors.New("message not found")
	// ErrForbidden is returned when the actor is neither the author nor the session owner.
	ErrForbidden = errors.New("not allowed to moderate this message")
)

// ValidKind reports whether k is an accepted message kind.
func ValidKind(k string) bool {
	return k == KindMessage || k == KindEmote || k == KindSystem
}

// Message is one persisted chat entry.
type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Type      string    `json:"messageType"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists chat messages.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Insert appends a message to a session and bumps the session's message counter
// in the same transaction. The username is denormalized at write time so history
// stays attributable through renames.
func (s *Store) Insert(ctx context.Context, sessionID, userID int64, username, content, kind string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m := &Message{
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		Content:   content,
		Type:      kind,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chat_messages (session_id, user_id, username, content, message_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		sessionID, userID, username, content, kind).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stream_sessions SET total_messages=total_messages+1 WHERE id=$1`, sessionID); err != nil {
		return nil, fmt.Errorf("bump message counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	if telemetry.MessagesPosted != nil {
		telemetry.MessagesPosted.Inc()
	}
	return m, nil
}

// ListBefore returns up to limit non-deleted messages for a session, ascending by id.
// "Most recent K" means highest K ids; beforeID > 0 restricts to ids strictly below
// the cursor for backward pagination without depending on timestamps.
func (s *Store) ListBefore(ctx context.Context, sessionID int64, limit int, beforeID int64) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if beforeID > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, user_id, username, content, message_type, created_at
			FROM chat_messages
			WHERE session_id=$1 AND id<$2 AND NOT is_deleted
			ORDER BY id DESC LIMIT $3`, sessionID, beforeID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, user_id, username, content, message_type, created_at
			FROM chat_messages
			WHERE session_id=$1 AND NOT is_deleted
			ORDER BY id DESC LIMIT $2`, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Username, &m.Content, &m.Type, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	// Query runs newest-first for the LIMIT; callers get oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SoftDelete marks a message deleted iff the actor is its author or the owner of
// the session it belongs to. Deleting an absent or already-deleted message returns
// ErrMessageNotFound; an unauthorized actor gets ErrForbidden.
func (s *Store) SoftDelete(ctx context.Context, messageID, actorID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var authorID, ownerID int64
	err = tx.QueryRowContext(ctx, `
		SELECT m.user_id, s.user_id
		FROM chat_messages m
		JOIN stream_sessions s ON s.id = m.session_id
		WHERE m.id=$1 AND NOT m.is_deleted
		FOR UPDATE OF m`, messageID).Scan(&authorID, &ownerID)
	if err == sql.ErrNoRows {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("load message for delete: %w", err)
	}
	if actorID != authorID && actorID != ownerID {
		return ErrForbidden
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_messages SET is_deleted=TRUE, moderated_by=$2 WHERE id=$1`,
		messageID, actorID); err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	if telemetry.MessagesModerated != nil {
		telemetry.MessagesModerated.Inc()
	}
	return nil
}
