// Package testutil holds shared helpers for DB-backed and HTTP tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/streamcast/backend/db"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SeedUser inserts a user row for tests and registers cleanup of the user and any
// sessions/messages attached to it. The wallet doubles as a uniqueness handle, so
// tests should derive it from t.Name().
func SeedUser(t *testing.T, database *sql.DB, wallet, username, playbackRef, providerStreamID string, isLive bool) int64 {
	t.Helper()
	var id int64
	err := database.QueryRow(`
		INSERT INTO users (wallet, username, playback_ref, provider_stream_id, stream_key, is_live)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), 'test-key', $5)
		RETURNING id`,
		wallet, username, playbackRef, providerStreamID, isLive).Scan(&id)
	if err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM chat_messages WHERE user_id=$1 OR session_id IN (SELECT id FROM stream_sessions WHERE user_id=$1)`, id)
		_, _ = database.Exec(`DELETE FROM stream_sessions WHERE user_id=$1`, id)
		_, _ = database.Exec(`DELETE FROM users WHERE id=$1`, id)
	})
	return id
}

// OpenSession inserts an open session for a user directly, bypassing the store.
func OpenSession(t *testing.T, database *sql.DB, userID int64) int64 {
	t.Helper()
	var id int64
	if err := database.QueryRow(
		`INSERT INTO stream_sessions (user_id, started_at) VALUES ($1, NOW()) RETURNING id`,
		userID).Scan(&id); err != nil {
		t.Fatalf("open session for user %d: %v", userID, err)
	}
	return id
}

// UniqueWallet derives a deterministic wallet-looking handle from a test name.
func UniqueWallet(t *testing.T, suffix string) string {
	t.Helper()
	return fmt.Sprintf("0x%s-%s", t.Name(), suffix)
}
