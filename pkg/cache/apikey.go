package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratushq/stratus/pkg/models"
)

const (
	// apiKeyTTL is how long a validated key stays cached.
	apiKeyTTL = 5 * time.Minute
	// apiKeyMissTTL briefly caches unknown hashes so a flood of bad
	// keys does not hammer the store.
	apiKeyMissTTL = 30 * time.Second

	// missMarker distinguishes a cached negative from a real entry.
	missMarker = "__miss__"
)

func apiKeyCacheKey(hash string) string {
	return "auth:apikey:" + hash
}

// GetAPIKey looks up a cached key record by hash. The three outcomes
// are: cached record (key non-nil), cached negative (miss true), and
// cache miss (both zero) which sends the caller to the store.
func (c *Client) GetAPIKey(ctx context.Context, hash string) (key *models.APIKey, miss bool) {
	if c.rdb == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, apiKeyCacheKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Debug("API key cache read failed, falling back to store", "error", err)
		return nil, false
	}
	if raw == missMarker {
		return nil, true
	}

	var cached models.APIKey
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		slog.Debug("API key cache entry corrupt, falling back to store", "error", err)
		return nil, false
	}
	return &cached, false
}

// SetAPIKey caches a validated key record. Best-effort.
func (c *Client) SetAPIKey(ctx context.Context, key *models.APIKey) {
	if c.rdb == nil || key == nil {
		return
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, apiKeyCacheKey(key.KeyHash), raw, apiKeyTTL).Err(); err != nil {
		slog.Debug("API key cache write failed", "error", err)
	}
}

// SetAPIKeyMiss caches that a hash resolved to nothing. Best-effort.
func (c *Client) SetAPIKeyMiss(ctx context.Context, hash string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, apiKeyCacheKey(hash), missMarker, apiKeyMissTTL).Err(); err != nil {
		slog.Debug("API key miss cache write failed", "error", err)
	}
}

// InvalidateAPIKey drops the cache entry for a hash. Called whenever a
// key is deactivated or changed so the cache never outlives the store.
func (c *Client) InvalidateAPIKey(ctx context.Context, hash string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, apiKeyCacheKey(hash)).Err(); err != nil {
		slog.Warn("API key cache invalidation failed, entry expires by TTL", "error", err)
	}
}
