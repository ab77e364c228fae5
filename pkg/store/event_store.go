package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// EventStore reads persisted bus events for WebSocket catchup. Writes go
// through events.EventPublisher, which needs the INSERT and pg_notify in
// one transaction.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore creates an EventStore.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

// ListSince returns events on channel for tenantID with id > sinceID,
// oldest first, capped at limit.
func (s *EventStore) ListSince(ctx context.Context, tenantID, channel string, sinceID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	events := []*models.Event{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT * FROM events WHERE tenant_id = $1 AND channel = $2 AND id > $3 ORDER BY id LIMIT $4`,
		tenantID, channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// DeleteBefore removes persisted events created before the cutoff. Called
// by the retention sweeper; catchup never reaches back that far.
func (s *EventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted events: %w", err)
	}
	return deleted, nil
}
