package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const maxContentLen = 500

// Local validation failures; these never touch the network or the message list.
var (
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrMessageTooLong = errors.New("message content exceeds 500 characters")
	ErrNoTarget       = errors.New("no playback reference set")
)

// Engine state, driven by SetTarget.
const (
	StateIdle   = "idle"   // no playback reference known
	StatePaused = "paused" // reference known, broadcaster offline, timer off
	StateActive = "active" // broadcaster live, refresh timer running
)

// Options configures an Engine. Zero values get sensible defaults.
type Options struct {
	Interval time.Duration // poll period while live (default 1s)
	Limit    int           // cached window of most recent server messages (default 200)
	Username string        // local display name for optimistic entries
}

// optimistic is a sent-but-unconfirmed message. confirmedID is the server id
// once the send succeeded; the entry is dropped when a refresh window reaches
// that id, so the authoritative copy supersedes it without a visible gap.
type optimistic struct {
	msg         Message
	confirmedID int64
}

// Engine reconciles server truth with local optimistic edits for one chat view.
// It holds at most Limit recent server messages; older history is reachable
// only through LoadOlder and is not retained in the live window.
//
// There is no push channel: while the broadcaster is live a ticker refreshes
// the window roughly once a second. A failed tick records the error and waits
// for the next interval.
type Engine struct {
	chat     *Chat
	interval time.Duration
	limit    int
	username string

	mu         sync.Mutex
	ref        string
	live       bool
	fetched    bool
	server     []Message // ascending by id, bounded to limit
	pending    []optimistic
	sentinel   int64 // strictly decreasing, so optimistic ids never collide
	lastErr    error
	loopCancel context.CancelFunc

	sf singleflight.Group
}

// NewEngine creates an idle engine. Call SetTarget to point it at a stream.
func NewEngine(chat *Chat, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	return &Engine{
		chat:     chat,
		interval: opts.Interval,
		limit:    opts.Limit,
		username: opts.Username,
	}
}

// SetTarget points the engine at a playback reference and live state.
// A changed reference resets the cached window. History is fetched once per
// reference; a live-to-offline transition keeps the window as-is so viewers
// still see the conversation that just ended.
func (e *Engine) SetTarget(ctx context.Context, playbackRef string, live bool) error {
	e.mu.Lock()
	if playbackRef != e.ref {
		e.ref = playbackRef
		e.server = nil
		e.pending = nil
		e.fetched = false
		e.lastErr = nil
	}
	e.live = live && playbackRef != ""
	needFetch := playbackRef != "" && !e.fetched

	var stop context.CancelFunc
	var loopCtx context.Context
	startLoop := false
	switch {
	case e.live && e.loopCancel == nil:
		loopCtx, e.loopCancel = context.WithCancel(context.Background())
		startLoop = true
	case !e.live && e.loopCancel != nil:
		stop = e.loopCancel
		e.loopCancel = nil
	}
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	if startLoop {
		go e.pollLoop(loopCtx)
	}
	if needFetch {
		return e.Refresh(ctx)
	}
	return nil
}

// Close stops the polling loop. In-flight requests complete on their own.
func (e *Engine) Close() {
	e.mu.Lock()
	stop := e.loopCancel
	e.loopCancel = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// State reports the current polling state.
func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.ref == "":
		return StateIdle
	case e.live:
		return StateActive
	default:
		return StatePaused
	}
}

// LastError returns the most recent refresh failure, cleared on success.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
			_ = e.Refresh(rctx)
			cancel()
		}
	}
}

// Refresh pulls the latest window from the server and reconciles it with
// pending optimistic entries. Concurrent callers share one round-trip.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err, _ := e.sf.Do("refresh", func() (any, error) {
		e.mu.Lock()
		ref := e.ref
		limit := e.limit
		e.mu.Unlock()
		if ref == "" {
			return nil, ErrNoTarget
		}
		msgs, err := e.chat.List(ctx, ref, limit, 0)
		if err != nil {
			e.mu.Lock()
			e.lastErr = err
			e.mu.Unlock()
			return nil, err
		}
		e.reconcile(msgs)
		return nil, nil
	})
	return err
}

// reconcile replaces the server window and drops optimistic entries whose
// authoritative copy is now visible. Send-failure rollback and delete-denial
// restoration flow through here as well, so a concurrent poll can never
// re-insert an entry another path is removing.
func (e *Engine) reconcile(msgs []Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(msgs) > e.limit {
		msgs = msgs[len(msgs)-e.limit:]
	}
	e.server = msgs

	var maxID int64
	if len(msgs) > 0 {
		maxID = msgs[len(msgs)-1].ID
	}
	kept := e.pending[:0]
	for _, p := range e.pending {
		if p.confirmedID != 0 && p.confirmedID <= maxID {
			continue
		}
		kept = append(kept, p)
	}
	e.pending = kept
	e.fetched = true
	e.lastErr = nil
}

func (e *Engine) removePending(sentinelID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.pending {
		if p.msg.ID == sentinelID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// Send validates locally, appends an optimistic entry immediately, then issues
// the network send. On failure the optimistic entry is rolled back and the
// error returned; on success the entry stays until a refresh window includes
// the authoritative copy.
func (e *Engine) Send(ctx context.Context, content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if len(trimmed) > maxContentLen {
		return ErrMessageTooLong
	}

	e.mu.Lock()
	ref := e.ref
	if ref == "" {
		e.mu.Unlock()
		return ErrNoTarget
	}
	e.sentinel--
	id := e.sentinel
	e.pending = append(e.pending, optimistic{msg: Message{
		ID:          id,
		Content:     trimmed,
		MessageType: "message",
		Username:    e.username,
		Wallet:      e.chat.Wallet,
		CreatedAt:   time.Now(),
		Pending:     true,
	}})
	e.mu.Unlock()

	sent, err := e.chat.Send(ctx, ref, trimmed, "")
	if err != nil {
		e.removePending(id)
		return err
	}

	e.mu.Lock()
	for i := range e.pending {
		if e.pending[i].msg.ID == id {
			e.pending[i].confirmedID = sent.ID
			break
		}
	}
	e.mu.Unlock()

	// Best effort; the next tick supersedes the optimistic entry regardless.
	_ = e.Refresh(ctx)
	return nil
}

// Delete removes the message locally right away, then asks the server. Either
// way a full revalidation follows: on a denied attempt the refresh restores
// the message, which is the correct outcome. Deleting a still-pending
// optimistic entry is purely local.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	if id < 0 {
		e.removePending(id)
		return nil
	}

	e.mu.Lock()
	ref := e.ref
	for i, m := range e.server {
		if m.ID == id {
			e.server = append(e.server[:i], e.server[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	if ref == "" {
		return ErrNoTarget
	}

	err := e.chat.Delete(ctx, id)
	_ = e.Refresh(ctx)
	return err
}

// Messages returns a snapshot of the current window: server messages ascending
// by id with pending optimistic entries riding at the tail.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, 0, len(e.server)+len(e.pending))
	out = append(out, e.server...)
	for _, p := range e.pending {
		out = append(out, p.msg)
	}
	return out
}

// LoadOlder fetches the page of history preceding the current window. Results
// are returned to the caller, not merged into the live window.
func (e *Engine) LoadOlder(ctx context.Context) ([]Message, error) {
	e.mu.Lock()
	ref := e.ref
	limit := e.limit
	var before int64
	if len(e.server) > 0 {
		before = e.server[0].ID
	}
	e.mu.Unlock()

	if ref == "" {
		return nil, ErrNoTarget
	}
	if before == 0 {
		return nil, nil
	}
	return e.chat.List(ctx, ref, limit, before)
}
