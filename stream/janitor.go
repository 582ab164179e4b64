package stream

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/onnwee/streamcast/backend/telemetry"
)

// StartSessionJanitor periodically reaps sessions left open after their broadcaster
// flag went offline (webhook bookkeeping failures, crashed shutdowns) and refreshes
// the live-broadcaster gauge. Runs until ctx is cancelled.
//
// Env knobs: SESSION_JANITOR_INTERVAL via config (default 1m).
func StartSessionJanitor(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("session janitor started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		reapOnce(ctx, db)
	}
}

func reapOnce(ctx context.Context, db *sql.DB) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := db.ExecContext(cctx, `
		UPDATE stream_sessions s SET ended_at=NOW()
		FROM users u
		WHERE s.user_id=u.id AND s.ended_at IS NULL AND NOT u.is_live`)
	if err != nil {
		slog.Warn("janitor: reap orphan sessions", slog.Any("err", err))
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.Info("janitor: closed orphan sessions", slog.Int64("count", n))
	}

	var live int
	if err := db.QueryRowContext(cctx,
		`SELECT COUNT(*) FROM users WHERE is_live`).Scan(&live); err != nil {
		slog.Debug("janitor: count live broadcasters", slog.Any("err", err))
		return
	}
	telemetry.SetLiveBroadcasters(live)
}
