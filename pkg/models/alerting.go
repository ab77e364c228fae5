package models

import "time"

// Operator is the comparison applied between an SLI value and a
// condition threshold.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
)

// Valid reports whether o names a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Compare applies the operator with value on the left and threshold on
// the right. Unknown operators never match.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpLessThan:
		return value < threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	}
	return false
}

// AlertCondition is one threshold rule evaluated by the alert engine.
// Service may be empty to match every service in the project.
type AlertCondition struct {
	ID              string    `db:"id" json:"id"`
	TenantID        string    `db:"tenant_id" json:"tenant_id"`
	ProjectID       string    `db:"project_id" json:"project_id"`
	PolicyID        *string   `db:"policy_id" json:"policy_id,omitempty"`
	Name            string    `db:"name" json:"name"`
	MetricName      string    `db:"metric_name" json:"metric_name"`
	Service         string    `db:"service" json:"service"`
	Operator        Operator  `db:"operator" json:"operator"`
	Threshold       float64   `db:"threshold" json:"threshold"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Severity        Severity  `db:"severity" json:"severity"`
	IsEnabled       bool      `db:"is_enabled" json:"is_enabled"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// AlertPolicy groups conditions and binds them to notification channels
// many-to-many.
type AlertPolicy struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ChannelType identifies a notification delivery mechanism.
type ChannelType string

const (
	ChannelSlack     ChannelType = "slack"
	ChannelEmail     ChannelType = "email"
	ChannelPagerDuty ChannelType = "pagerduty"
	ChannelTeams     ChannelType = "teams"
	ChannelWebhook   ChannelType = "webhook"
)

// Valid reports whether t names a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelSlack, ChannelEmail, ChannelPagerDuty, ChannelTeams, ChannelWebhook:
		return true
	}
	return false
}

// NotificationChannel is one delivery destination. Config holds the
// channel settings (webhook URL, SMTP recipients, routing key) as
// AES-GCM ciphertext of a JSON object.
type NotificationChannel struct {
	ID        string      `db:"id" json:"id"`
	TenantID  string      `db:"tenant_id" json:"tenant_id"`
	ProjectID string      `db:"project_id" json:"project_id"`
	Name      string      `db:"name" json:"name"`
	Type      ChannelType `db:"type" json:"type"`
	Config    string      `db:"config" json:"-"`
	IsEnabled bool        `db:"is_enabled" json:"is_enabled"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// MutingRule suppresses notifications for alerts whose labels are a
// superset of Matchers while now is within [StartsAt, EndsAt).
// Persistence of the alert itself is never suppressed.
type MutingRule struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Name      string    `db:"name" json:"name"`
	Matchers  JSONMap   `db:"matchers" json:"matchers"`
	StartsAt  time.Time `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time `db:"ends_at" json:"ends_at"`
	IsEnabled bool      `db:"is_enabled" json:"is_enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ActiveWithin reports whether the rule is enabled and now falls inside
// its window.
func (r *MutingRule) ActiveWithin(now time.Time) bool {
	return r.IsEnabled && !now.Before(r.StartsAt) && now.Before(r.EndsAt)
}

// Matches reports whether every matcher key/value is present in labels.
func (r *MutingRule) Matches(labels map[string]string) bool {
	for key, want := range r.Matchers {
		got, ok := labels[key]
		if !ok {
			return false
		}
		if s, ok := want.(string); !ok || s != got {
			return false
		}
	}
	return true
}

// AlertStatus is the lifecycle status of an ActiveAlert.
type AlertStatus string

const (
	AlertFiring       AlertStatus = "firing"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// ActiveAlert is the live instance of a breached condition. At most one
// firing alert exists per condition at any time, enforced by a partial
// unique index.
type ActiveAlert struct {
	ID          string      `db:"id" json:"id"`
	TenantID    string      `db:"tenant_id" json:"tenant_id"`
	ProjectID   string      `db:"project_id" json:"project_id"`
	ConditionID string      `db:"condition_id" json:"condition_id"`
	Title       string      `db:"title" json:"title"`
	Description string      `db:"description" json:"description"`
	Severity    Severity    `db:"severity" json:"severity"`
	Status      AlertStatus `db:"status" json:"status"`
	MetricValue float64     `db:"metric_value" json:"metric_value"`
	FiredAt     time.Time   `db:"fired_at" json:"fired_at"`
	ResolvedAt  *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Labels returns the matcher-facing label set of the alert, used by
// muting-rule evaluation.
func (a *ActiveAlert) Labels(condition *AlertCondition) map[string]string {
	labels := map[string]string{
		"severity":    string(a.Severity),
		"metric_name": condition.MetricName,
		"condition":   condition.Name,
	}
	if condition.Service != "" {
		labels["service"] = condition.Service
	}
	return labels
}
