package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// EventPublisher publishes bus events for WebSocket delivery.
// Persistent events are stored in the events table then broadcast via
// NOTIFY. Transient events (system messages) are broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. Internally, payloads are wrapped in an Envelope, marshaled
// to JSON, and routed to the fixed channel for their event type via
// persistAndNotify or notifyOnly.
type EventPublisher struct {
	db *sqlx.DB
}

// NewEventPublisher creates a new EventPublisher over the shared pool.
func NewEventPublisher(db *sqlx.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// --- Typed public methods ---

// PublishIncidentCreated persists and broadcasts an incident.created event.
func (p *EventPublisher) PublishIncidentCreated(ctx context.Context, tenantID string, payload IncidentPayload) error {
	return p.publish(ctx, tenantID, models.ChannelIncidents, EventTypeIncidentCreated, payload)
}

// PublishIncidentUpdated persists and broadcasts an incident.updated event.
// Published on every state, severity, or comment change.
func (p *EventPublisher) PublishIncidentUpdated(ctx context.Context, tenantID string, payload IncidentPayload) error {
	return p.publish(ctx, tenantID, models.ChannelIncidents, EventTypeIncidentUpdated, payload)
}

// PublishHypothesisGenerated persists and broadcasts a hypothesis.generated
// event. Published once per stored hypothesis row.
func (p *EventPublisher) PublishHypothesisGenerated(ctx context.Context, tenantID string, payload HypothesisPayload) error {
	return p.publish(ctx, tenantID, models.ChannelHypotheses, EventTypeHypothesisGenerated, payload)
}

// PublishAlertFired persists and broadcasts an alert.fired event.
func (p *EventPublisher) PublishAlertFired(ctx context.Context, tenantID string, payload AlertPayload) error {
	return p.publish(ctx, tenantID, models.ChannelAlerts, EventTypeAlertFired, payload)
}

// PublishAlertResolved persists and broadcasts an alert.resolved event.
func (p *EventPublisher) PublishAlertResolved(ctx context.Context, tenantID string, payload AlertPayload) error {
	return p.publish(ctx, tenantID, models.ChannelAlerts, EventTypeAlertResolved, payload)
}

// PublishNotificationSent persists and broadcasts a notification.sent
// event. Published per channel delivery attempt, delivered or not.
func (p *EventPublisher) PublishNotificationSent(ctx context.Context, tenantID string, payload NotificationPayload) error {
	return p.publish(ctx, tenantID, models.ChannelNotifications, EventTypeNotificationSent, payload)
}

// PublishSystemMessage broadcasts a system.message transient event
// (no DB persistence, never replayed by catchup).
func (p *EventPublisher) PublishSystemMessage(ctx context.Context, tenantID string, payload SystemPayload) error {
	payloadJSON, err := marshalEnvelope(EventTypeSystemMessage, tenantID, payload)
	if err != nil {
		return err
	}
	return p.notifyOnly(ctx, models.ChannelSystem, payloadJSON)
}

// --- Internal core methods ---

// publish wraps a typed payload in an Envelope and persists + notifies it.
func (p *EventPublisher) publish(ctx context.Context, tenantID, channel, eventType string, data any) error {
	payloadJSON, err := marshalEnvelope(eventType, tenantID, data)
	if err != nil {
		return err
	}
	return p.persistAndNotify(ctx, tenantID, channel, payloadJSON)
}

// marshalEnvelope builds the wire envelope {type, data, tenant_id, timestamp}.
func marshalEnvelope(eventType, tenantID string, data any) ([]byte, error) {
	env := Envelope{
		Type:      eventType,
		Data:      data,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	payloadJSON, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", eventType, err)
	}
	return payloadJSON, nil
}

// notifyPayloadLimit keeps wire payloads under PostgreSQL's ~8000 byte
// NOTIFY cap with margin to spare.
const notifyPayloadLimit = 7900

const insertEventSQL = `INSERT INTO events (tenant_id, channel, payload, created_at)
	VALUES ($1, $2, $3, $4) RETURNING id`

// persistAndNotify writes the envelope to the events table and issues
// pg_notify inside the same transaction. Postgres holds the notification
// until COMMIT, so a subscriber can never observe a notify for a row that
// did not land.
func (p *EventPublisher) persistAndNotify(ctx context.Context, tenantID, channel string, envelope []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	if err := tx.QueryRowContext(ctx, insertEventSQL, tenantID, channel, envelope, time.Now()).Scan(&eventID); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	wire, err := notifyWire(envelope, &eventID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, wire); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// notifyOnly broadcasts without touching the events table. Transient
// frames are never replayed by catchup; clients that miss them miss them.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, envelope []byte) error {
	wire, err := notifyWire(envelope, nil)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, wire); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// notifyWire prepares the payload actually sent through pg_notify: the
// envelope with db_event_id stitched in when the event was persisted,
// shrunk to a routing stub if it would exceed the NOTIFY size limit.
func notifyWire(envelope []byte, dbEventID *int64) (string, error) {
	out := envelope
	if dbEventID != nil {
		var m map[string]any
		if err := json.Unmarshal(envelope, &m); err != nil {
			return "", fmt.Errorf("failed to decode envelope for notify: %w", err)
		}
		m["db_event_id"] = *dbEventID

		var err error
		if out, err = json.Marshal(m); err != nil {
			return "", fmt.Errorf("failed to re-encode notify payload: %w", err)
		}
	}
	if len(out) <= notifyPayloadLimit {
		return string(out), nil
	}
	return truncatedStub(out)
}

// truncatedStub replaces an oversized envelope with its routing fields
// only. tenant_id must survive or the gateway drops the frame before
// fan-out; db_event_id lets clients fetch the full row from the store.
func truncatedStub(envelope []byte) (string, error) {
	var keep struct {
		Type      string `json:"type"`
		TenantID  string `json:"tenant_id"`
		Timestamp string `json:"timestamp"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(envelope, &keep); err != nil {
		return "", fmt.Errorf("failed to extract routing fields: %w", err)
	}

	stub := map[string]any{
		"type":      keep.Type,
		"tenant_id": keep.TenantID,
		"timestamp": keep.Timestamp,
		"truncated": true,
	}
	if keep.DBEventID != nil {
		stub["db_event_id"] = *keep.DBEventID
	}

	out, err := json.Marshal(stub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncation stub: %w", err)
	}
	return string(out), nil
}
