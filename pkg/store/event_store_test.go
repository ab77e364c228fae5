package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/models"
)

func seedEvent(t *testing.T, s *Store, tenantID, channel, payload string) int64 {
	t.Helper()
	var id int64
	err := s.DB().QueryRowContext(context.Background(),
		`INSERT INTO events (tenant_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		tenantID, channel, payload, time.Now()).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestEventStore_ListSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, seedEvent(t, s, "tenant-1", models.ChannelIncidents,
			fmt.Sprintf(`{"type":"incident.updated","tenant_id":"tenant-1","seq":%d}`, i)))
	}
	seedEvent(t, s, "tenant-2", models.ChannelIncidents, `{"type":"incident.updated","tenant_id":"tenant-2"}`)
	seedEvent(t, s, "tenant-1", models.ChannelAlerts, `{"type":"alert.fired","tenant_id":"tenant-1"}`)

	t.Run("returns tenant and channel scoped events after the cursor", func(t *testing.T) {
		events, err := s.Events.ListSince(ctx, "tenant-1", models.ChannelIncidents, ids[1], 10)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, ids[2], events[0].ID)
		assert.Equal(t, ids[4], events[2].ID)
		for _, evt := range events {
			assert.Equal(t, "tenant-1", evt.TenantID)
			assert.Equal(t, models.ChannelIncidents, evt.Channel)
		}
	})

	t.Run("payload round-trips as a map", func(t *testing.T) {
		events, err := s.Events.ListSince(ctx, "tenant-1", models.ChannelIncidents, 0, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "incident.updated", events[0].Payload["type"])
		assert.Equal(t, float64(0), events[0].Payload["seq"])
	})

	t.Run("limit caps the page", func(t *testing.T) {
		events, err := s.Events.ListSince(ctx, "tenant-1", models.ChannelIncidents, 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, ids[0], events[0].ID)
	})

	t.Run("empty when cursor is at head", func(t *testing.T) {
		events, err := s.Events.ListSince(ctx, "tenant-1", models.ChannelIncidents, ids[4], 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestEventStore_DeleteBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO events (tenant_id, channel, payload, created_at) VALUES ($1, $2, $3, $4)`,
		"tenant-1", models.ChannelSystem, `{"type":"system.message"}`, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	seedEvent(t, s, "tenant-1", models.ChannelSystem, `{"type":"system.message"}`)

	deleted, err := s.Events.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := s.Events.ListSince(ctx, "tenant-1", models.ChannelSystem, 0, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
