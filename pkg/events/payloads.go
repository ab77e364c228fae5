package events

import (
	"github.com/stratushq/stratus/pkg/models"
)

// IncidentPayload is the data for incident.created and incident.updated
// events. Updated events carry the post-transition state and severity.
type IncidentPayload struct {
	IncidentID  string               `json:"incident_id"`
	ProjectID   string               `json:"project_id"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	State       models.IncidentState `json:"state"`
	Severity    models.Severity      `json:"severity"`
	Source      string               `json:"source,omitempty"` // manual, alert, ai
}

// HypothesisPayload is the data for hypothesis.generated events. Cached
// marks replays of previously stored hypotheses.
type HypothesisPayload struct {
	IncidentID   string  `json:"incident_id"`
	HypothesisID string  `json:"hypothesis_id"`
	Title        string  `json:"title"`
	Confidence   float64 `json:"confidence"`
	Rank         int     `json:"rank"`
	Cached       bool    `json:"cached,omitempty"`
}

// AlertPayload is the data for alert.fired and alert.resolved events.
// MetricValue is the observed window value that crossed (or recrossed)
// the condition threshold.
type AlertPayload struct {
	AlertID       string             `json:"alert_id"`
	ConditionID   string             `json:"condition_id"`
	ProjectID     string             `json:"project_id"`
	ConditionName string             `json:"condition_name"`
	Severity      models.Severity    `json:"severity"`
	Status        models.AlertStatus `json:"status"`
	MetricValue   float64            `json:"metric_value"`
}

// NotificationPayload is the data for notification.sent events, one per
// channel delivery attempt. Delivered false means the attempt failed and
// Error carries the reason.
type NotificationPayload struct {
	AlertID     string             `json:"alert_id"`
	ChannelID   string             `json:"channel_id"`
	ChannelType models.ChannelType `json:"channel_type"`
	Delivered   bool               `json:"delivered"`
	Error       string             `json:"error,omitempty"`
}

// SystemPayload is the data for system.message events.
type SystemPayload struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"` // info, warning, error
}
