// Package events is the event bus: domain events are persisted to the
// events table and distributed across pods via PostgreSQL NOTIFY/LISTEN.
//
// ════════════════════════════════════════════════════════════════
// Delivery model
// ════════════════════════════════════════════════════════════════
//
// Every bus message is an Envelope {type, data, tenant_id, timestamp}
// published on one of five fixed channels (pkg/models BusChannels):
//
//	incidents      incident.created, incident.updated
//	hypotheses     hypothesis.generated
//	alerts         alert.fired, alert.resolved
//	notifications  notification.sent
//	system         system.message
//
// Persistent events (everything except system.message) are written to
// the events table and NOTIFYed in the same transaction, so the COMMIT
// makes the row durable and fires the notification atomically. The
// serial row id is injected into the NOTIFY copy as db_event_id;
// clients track it and send it back as last_event_id when they
// resubscribe, and the gateway replays what they missed from the
// events table (see pkg/gateway).
//
// system.message is transient: NOTIFY only, never persisted, never
// replayed by catchup.
//
// PostgreSQL caps NOTIFY payloads at 8000 bytes. Oversized payloads are
// replaced on the wire by a routing envelope {type, tenant_id,
// timestamp, truncated: true, db_event_id}; the full row is still in
// the events table and reachable via catchup.
//
// ════════════════════════════════════════════════════════════════
package events

// Persistent event types (stored in the events table + NOTIFY).
const (
	// Incident lifecycle — created on POST, updated on every state,
	// severity, or comment change.
	EventTypeIncidentCreated = "incident.created"
	EventTypeIncidentUpdated = "incident.updated"

	// AI enrichment — one event per stored hypothesis row.
	EventTypeHypothesisGenerated = "hypothesis.generated"

	// Alert engine reconciliation outcomes.
	EventTypeAlertFired    = "alert.fired"
	EventTypeAlertResolved = "alert.resolved"

	// Notifier delivery attempts, successful or not.
	EventTypeNotificationSent = "notification.sent"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// Operational broadcasts — stale minutes later, so never replayed.
	EventTypeSystemMessage = "system.message"
)

// Envelope is the wire shape of every bus message. The gateway routes on
// TenantID plus the channel the message arrived on; Data carries one of
// the typed payloads from payloads.go.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	TenantID  string `json:"tenant_id"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}
