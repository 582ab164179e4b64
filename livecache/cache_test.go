package livecache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/onnwee/streamcast/backend/stream"
)

// A nil cache must be fully inert so the gateway never branches on configuration.
func TestNilCacheSafe(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	if _, err := c.GetBroadcaster(ctx, "ref"); !errors.Is(err, ErrMiss) {
		t.Errorf("nil GetBroadcaster error = %v, want ErrMiss", err)
	}
	if err := c.SetBroadcaster(ctx, &stream.Broadcaster{PlaybackRef: "ref"}); err != nil {
		t.Errorf("nil SetBroadcaster error = %v", err)
	}
	if err := c.Invalidate(ctx, "ref"); err != nil {
		t.Errorf("nil Invalidate error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("nil Close error = %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := New(addr, "", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	b := &stream.Broadcaster{UserID: 7, Wallet: "0xabc", Username: "alice", PlaybackRef: "play_rt", IsLive: true}
	if err := c.SetBroadcaster(ctx, b); err != nil {
		t.Fatalf("SetBroadcaster() error = %v", err)
	}
	got, err := c.GetBroadcaster(ctx, "play_rt")
	if err != nil {
		t.Fatalf("GetBroadcaster() error = %v", err)
	}
	if got.UserID != b.UserID || got.Username != b.Username || !got.IsLive {
		t.Errorf("GetBroadcaster() = %+v, want %+v", got, b)
	}

	if err := c.Invalidate(ctx, "play_rt"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := c.GetBroadcaster(ctx, "play_rt"); !errors.Is(err, ErrMiss) {
		t.Errorf("after invalidate error = %v, want ErrMiss", err)
	}
}
