// Package stream tracks broadcaster live state and the stream sessions that scope chat.
// A broadcaster has at most one open session at a time; the partial unique index on
// stream_sessions backs that invariant against racing go-live calls.
package stream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/onnwee/streamcast/backend/crypto"
	"github.com/onnwee/streamcast/backend/telemetry"
)

var (
	// ErrAlreadyLive is returned by GoLive when an open session already exists.
	ErrAlreadyLive = errors.New("broadcaster already live")
	// ErrNotLive is returned by GoOffline when no open session exists.
	ErrNotLive = errors.New("broadcaster not live")
	// ErrNoActiveSession is returned when a live broadcaster has no resolvable open
	// session (go-live race or failed webhook bookkeeping). Callers should treat it
	// as transient and retry.
	ErrNoActiveSession = errors.New("no active stream session")
	// ErrUserNotFound is returned when a wallet or playback reference resolves to nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnconfigured is returned when a broadcaster has no provisioned stream.
	ErrUnconfigured = errors.New("broadcaster has no provisioned stream")
)

// Session is one continuous broadcast.
type Session struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"userId"`
	ProviderSessionRef string     `json:"providerSessionRef,omitempty"`
	StartedAt          time.Time  `json:"startedAt"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
	TotalMessages      int        `json:"totalMessages"`
	PeakViewers        int        `json:"peakViewers"`
}

// Broadcaster is the chat-relevant projection of a user row.
type Broadcaster struct {
	UserID      int64  `json:"userId"`
	Wallet      string `json:"wallet"`
	Username    string `json:"username"`
	PlaybackRef string `json:"playbackRef"`
	IsLive      bool   `json:"isLive"`
}

// User identifies a resolved sender.
type User struct {
	ID       int64
	Wallet   string
	Username string
}

// Store persists live flags and sessions.
type Store struct {
	db  *sql.DB
	enc crypto.Encryptor // nil: stream keys stored in plaintext
}

// NewStore returns a Store backed by db. When STREAM_KEY_ENC_KEY is set, stream
// keys are encrypted at rest; a malformed key disables encryption with a warning
// rather than failing startup.
func NewStore(db *sql.DB) *Store {
	s := &Store{db: db}
	if k := os.Getenv("STREAM_KEY_ENC_KEY"); k != "" {
		enc, err := crypto.NewAESEncryptor(k)
		if err != nil {
			slog.Warn("invalid STREAM_KEY_ENC_KEY, storing stream keys in plaintext", slog.Any("err", err))
		} else {
			s.enc = enc
		}
	}
	return s
}

// GoLive opens a new session for the broadcaster and flips the live flag.
// Returns ErrAlreadyLive if an open session exists.
func (s *Store) GoLive(ctx context.Context, userID int64) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin go-live tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess := &Session{UserID: userID}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO stream_sessions (user_id, started_at) VALUES ($1, NOW()) RETURNING id, started_at`,
		userID).Scan(&sess.ID, &sess.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyLive
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET is_live=TRUE, updated_at=NOW() WHERE id=$1`, userID); err != nil {
		return nil, fmt.Errorf("set live flag: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit go-live: %w", err)
	}
	if telemetry.SessionsStarted != nil {
		telemetry.SessionsStarted.Inc()
	}
	return sess, nil
}

// GoOffline closes the open session and flips the live flag. Existing messages are
// untouched. Returns ErrNotLive if no open session exists.
func (s *Store) GoOffline(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin go-offline tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE stream_sessions SET ended_at=NOW() WHERE user_id=$1 AND ended_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session rows: %w", err)
	}
	if n == 0 {
		return ErrNotLive
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET is_live=FALSE, updated_at=NOW() WHERE id=$1`, userID); err != nil {
		return fmt.Errorf("clear live flag: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit go-offline: %w", err)
	}
	if telemetry.SessionsEnded != nil {
		telemetry.SessionsEnded.Inc()
	}
	return nil
}

// ResolveOpenSession returns the open session id for a broadcaster, or ErrNoActiveSession.
func (s *Store) ResolveOpenSession(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM stream_sessions WHERE user_id=$1 AND ended_at IS NULL`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNoActiveSession
	}
	if err != nil {
		return 0, fmt.Errorf("resolve open session: %w", err)
	}
	return id, nil
}

// BroadcasterByPlaybackRef resolves the broadcaster a viewer addresses by playback reference.
func (s *Store) BroadcasterByPlaybackRef(ctx context.Context, playbackRef string) (*Broadcaster, error) {
	b := &Broadcaster{PlaybackRef: playbackRef}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, wallet, username, is_live FROM users WHERE playback_ref=$1`,
		playbackRef).Scan(&b.UserID, &b.Wallet, &b.Username, &b.IsLive)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("broadcaster by playback ref: %w", err)
	}
	return b, nil
}

// BroadcasterByWallet resolves a broadcaster's own record, including provisioning state.
func (s *Store) BroadcasterByWallet(ctx context.Context, wallet string) (*Broadcaster, error) {
	b := &Broadcaster{Wallet: wallet}
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, playback_ref, is_live FROM users WHERE wallet=$1`,
		wallet).Scan(&b.UserID, &b.Username, &ref, &b.IsLive)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("broadcaster by wallet: %w", err)
	}
	b.PlaybackRef = ref.String
	return b, nil
}

// SaveProvisioning stores the provider stream references after provisioning.
// The stream key is encrypted when an encryptor is configured; it lets anyone
// who holds it broadcast as this user.
func (s *Store) SaveProvisioning(ctx context.Context, userID int64, playbackRef, providerStreamID, streamKey string) error {
	if s.enc != nil {
		sealed, err := crypto.EncryptString(s.enc, streamKey)
		if err != nil {
			return fmt.Errorf("encrypt stream key: %w", err)
		}
		streamKey = sealed
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET playback_ref=$2, provider_stream_id=$3, stream_key=$4, updated_at=NOW()
		WHERE id=$1`, userID, playbackRef, providerStreamID, streamKey)
	if err != nil {
		return fmt.Errorf("save provisioning: %w", err)
	}
	return nil
}

// StreamKeyByWallet returns a broadcaster's ingest key, decrypting it when
// encryption at rest is configured. ErrUnconfigured means no stream was
// provisioned yet.
func (s *Store) StreamKeyByWallet(ctx context.Context, wallet string) (string, error) {
	var key sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_key FROM users WHERE wallet=$1`, wallet).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("stream key by wallet: %w", err)
	}
	if key.String == "" {
		return "", ErrUnconfigured
	}
	if s.enc != nil {
		plain, err := crypto.DecryptString(s.enc, key.String)
		if err != nil {
			return "", fmt.Errorf("decrypt stream key: %w", err)
		}
		return plain, nil
	}
	return key.String, nil
}

// PlaybackRefByProviderStream maps a provider stream id to the public playback
// reference, for cache invalidation on webhook transitions.
func (s *Store) PlaybackRefByProviderStream(ctx context.Context, providerStreamID string) (string, error) {
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT playback_ref FROM users WHERE provider_stream_id=$1`, providerStreamID).Scan(&ref)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("playback ref by provider stream: %w", err)
	}
	return ref.String, nil
}

// UserByWallet resolves a sender or moderator identity by wallet address.
func (s *Store) UserByWallet(ctx context.Context, wallet string) (*User, error) {
	u := &User{Wallet: wallet}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE wallet=$1`, wallet).Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user by wallet: %w", err)
	}
	return u, nil
}

// SessionByID loads a session row; used by stream start/stop responses.
func (s *Store) SessionByID(ctx context.Context, id int64) (*Session, error) {
	sess := &Session{ID: id}
	var ref sql.NullString
	var ended sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, COALESCE(provider_session_ref,''), started_at, ended_at, total_messages, peak_viewers
		 FROM stream_sessions WHERE id=$1`, id).
		Scan(&sess.UserID, &ref.String, &sess.StartedAt, &ended, &sess.TotalMessages, &sess.PeakViewers)
	if err == sql.ErrNoRows {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("session by id: %w", err)
	}
	sess.ProviderSessionRef = ref.String
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}

// RecordTelemetry updates advisory counters on the open session. These are
// bookkeeping only; failures never gate chat writes.
func (s *Store) RecordTelemetry(ctx context.Context, userID int64, viewers, bitrate int, resolution string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stream_sessions
		SET peak_viewers=GREATEST(peak_viewers, $2),
		    last_bitrate=NULLIF($3, 0),
		    last_resolution=NULLIF($4, '')
		WHERE user_id=$1 AND ended_at IS NULL`, userID, viewers, bitrate, resolution)
	if err != nil {
		return fmt.Errorf("record session telemetry: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
