// Package livecache is an optional Redis read-through cache for broadcaster
// lookups by playback reference. The gateway resolves a broadcaster on every
// chat poll; with many viewers polling every second that lookup dominates read
// traffic, so a short-TTL cache absorbs it. A nil *Cache is valid and behaves
// as always-miss, keeping the gateway path identical when Redis is not configured.
package livecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/streamcast/backend/stream"
)

// ErrMiss is returned when the key is absent or the cache is disabled.
var ErrMiss = errors.New("cache miss")

// Cache wraps a Redis client with a fixed TTL and key prefix.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New connects to Redis and returns a Cache. The TTL should sit just under the
// client poll interval so a lifecycle transition is visible within one poll.
func New(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Cache{client: client, ttl: ttl, prefix: "broadcaster"}, nil
}

func (c *Cache) key(playbackRef string) string {
	return fmt.Sprintf("%s:ref:%s", c.prefix, playbackRef)
}

// GetBroadcaster returns the cached broadcaster for a playback reference, or ErrMiss.
func (c *Cache) GetBroadcaster(ctx context.Context, playbackRef string) (*stream.Broadcaster, error) {
	if c == nil {
		return nil, ErrMiss
	}
	data, err := c.client.Get(ctx, c.key(playbackRef)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var b stream.Broadcaster
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &b, nil
}

// SetBroadcaster stores a broadcaster projection under its playback reference.
func (c *Cache) SetBroadcaster(ctx context.Context, b *stream.Broadcaster) error {
	if c == nil || b == nil || b.PlaybackRef == "" {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, c.key(b.PlaybackRef), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry; call on lifecycle transitions so viewers see
// the new live state immediately rather than after TTL expiry.
func (c *Cache) Invalidate(ctx context.Context, playbackRef string) error {
	if c == nil || playbackRef == "" {
		return nil
	}
	if err := c.client.Del(ctx, c.key(playbackRef)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
