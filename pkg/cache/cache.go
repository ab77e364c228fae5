// Package cache is the KV layer over Redis: API-key lookups, AI
// single-flight locks. The cache is authoritative for speed, not
// correctness — every operation degrades to a no-op when Redis is
// unreachable or not configured, and callers fall back to the store.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps a Redis connection. A nil inner client is valid and
// turns every operation into a miss or no-op.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis. When addr is empty the returned client is
// disabled; when Redis is unreachable the client stays up and each
// operation degrades individually.
func New(ctx context.Context, cfg Config) *Client {
	if cfg.Addr == "" {
		slog.Info("Cache disabled: no Redis address configured")
		return &Client{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Cache reachable check failed, continuing degraded", "addr", cfg.Addr, "error", err)
	}

	return &Client{rdb: rdb}
}

// NewFromRedis wraps an existing Redis client, used by tests.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Enabled reports whether a Redis connection is configured.
func (c *Client) Enabled() bool {
	return c.rdb != nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
