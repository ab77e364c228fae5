package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// HealthStatus reports connectivity plus a snapshot of the pool counters.
// Durations are serialized in milliseconds.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`

	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDuration    int64 `json:"wait_duration_ms"`
	MaxOpenConns    int   `json:"max_open_conns"`
}

// Health pings the database and, when reachable, fills in pool statistics.
// On failure it returns both an unhealthy status and the ping error so the
// caller can report either.
func Health(ctx context.Context, db *sqlx.DB) (*HealthStatus, error) {
	started := time.Now()
	err := db.PingContext(ctx)
	hs := &HealthStatus{ResponseTime: time.Since(started).Milliseconds()}
	if err != nil {
		hs.Status = "unhealthy"
		return hs, err
	}

	pool := db.Stats()
	hs.Status = "healthy"
	hs.OpenConnections = pool.OpenConnections
	hs.InUse = pool.InUse
	hs.Idle = pool.Idle
	hs.WaitCount = pool.WaitCount
	hs.WaitDuration = pool.WaitDuration.Milliseconds()
	hs.MaxOpenConns = pool.MaxOpenConnections
	return hs, nil
}
