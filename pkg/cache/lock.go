package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// GeneratingLockTTL bounds how long one hypothesis generation may hold
// its incident exclusively. The lock self-expires even on crash.
const GeneratingLockTTL = 60 * time.Second

// releaseScript deletes the lock only if the caller still holds it, so
// an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// GeneratingLockKey is the single-flight key guarding AI hypothesis
// generation for one incident.
func GeneratingLockKey(incidentID string) string {
	return "ai:generating:" + incidentID
}

// AcquireLock takes key with SET NX EX semantics and returns a holder
// token. acquired is false only when someone else holds the lock; a
// disabled or failing cache grants the lock so AI generation is never
// blocked by the cache layer.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool) {
	token = uuid.New().String()
	if c.rdb == nil {
		return token, true
	}

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		slog.Warn("Lock acquisition bypassed, cache unreachable", "key", key, "error", err)
		return token, true
	}
	return token, ok
}

// ReleaseLock releases key if token still holds it. Best-effort; an
// unreleased lock self-expires after its TTL.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) {
	if c.rdb == nil {
		return
	}
	if err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Err(); err != nil {
		slog.Warn("Lock release failed, relying on TTL expiry", "key", key, "error", err)
	}
}
