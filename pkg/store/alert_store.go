package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// AlertStore persists alert conditions, policies, channels, muting
// rules, and the live firing state.
type AlertStore struct {
	db *sqlx.DB
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(db *sqlx.DB) *AlertStore {
	return &AlertStore{db: db}
}

// CreateCondition persists a new threshold rule.
func (s *AlertStore) CreateCondition(ctx context.Context, cond *models.AlertCondition) (*models.AlertCondition, error) {
	if err := validateCondition(cond); err != nil {
		return nil, err
	}
	if cond.ID == "" {
		cond.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cond.CreatedAt = now
	cond.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_conditions (id, tenant_id, project_id, policy_id, name, metric_name, service,
		   operator, threshold, duration_minutes, severity, is_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		cond.ID, cond.TenantID, cond.ProjectID, cond.PolicyID, cond.Name, cond.MetricName, cond.Service,
		cond.Operator, cond.Threshold, cond.DurationMinutes, cond.Severity, cond.IsEnabled,
		cond.CreatedAt, cond.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert condition: %w", err)
	}
	return cond, nil
}

// UpdateCondition replaces the mutable fields of a rule.
func (s *AlertStore) UpdateCondition(ctx context.Context, cond *models.AlertCondition) (*models.AlertCondition, error) {
	if err := validateCondition(cond); err != nil {
		return nil, err
	}
	var out models.AlertCondition
	err := s.db.GetContext(ctx, &out,
		`UPDATE alert_conditions
		 SET name = $1, metric_name = $2, service = $3, operator = $4, threshold = $5,
		     duration_minutes = $6, severity = $7, is_enabled = $8, policy_id = $9, updated_at = now()
		 WHERE id = $10 AND tenant_id = $11
		 RETURNING *`,
		cond.Name, cond.MetricName, cond.Service, cond.Operator, cond.Threshold,
		cond.DurationMinutes, cond.Severity, cond.IsEnabled, cond.PolicyID,
		cond.ID, cond.TenantID)
	if err != nil {
		return nil, noRows(err, "alert condition")
	}
	return &out, nil
}

// DeleteCondition removes a rule and, via cascade, its active alerts.
func (s *AlertStore) DeleteCondition(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_conditions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete alert condition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert condition: %w", ErrNotFound)
	}
	return nil
}

// GetCondition loads one rule scoped by tenant.
func (s *AlertStore) GetCondition(ctx context.Context, tenantID, id string) (*models.AlertCondition, error) {
	var cond models.AlertCondition
	err := s.db.GetContext(ctx, &cond,
		`SELECT * FROM alert_conditions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, noRows(err, "alert condition")
	}
	return &cond, nil
}

// ListConditions returns a project's rules.
func (s *AlertStore) ListConditions(ctx context.Context, tenantID, projectID string) ([]*models.AlertCondition, error) {
	conds := []*models.AlertCondition{}
	err := s.db.SelectContext(ctx, &conds,
		`SELECT * FROM alert_conditions WHERE tenant_id = $1 AND project_id = $2 ORDER BY created_at`,
		tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert conditions: %w", err)
	}
	return conds, nil
}

// ListEnabledConditions returns every enabled rule across all tenants.
// The evaluator reconciles the whole installation each tick.
func (s *AlertStore) ListEnabledConditions(ctx context.Context) ([]*models.AlertCondition, error) {
	conds := []*models.AlertCondition{}
	err := s.db.SelectContext(ctx, &conds,
		`SELECT * FROM alert_conditions WHERE is_enabled ORDER BY tenant_id, project_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled conditions: %w", err)
	}
	return conds, nil
}

// GetConditionByName loads a rule by its project-scoped name, used by
// the bootstrap seeder to stay idempotent.
func (s *AlertStore) GetConditionByName(ctx context.Context, tenantID, projectID, name string) (*models.AlertCondition, error) {
	var cond models.AlertCondition
	err := s.db.GetContext(ctx, &cond,
		`SELECT * FROM alert_conditions WHERE tenant_id = $1 AND project_id = $2 AND name = $3`,
		tenantID, projectID, name)
	if err != nil {
		return nil, noRows(err, "alert condition")
	}
	return &cond, nil
}

// CreatePolicy persists a policy.
func (s *AlertStore) CreatePolicy(ctx context.Context, policy *models.AlertPolicy) (*models.AlertPolicy, error) {
	if policy.Name == "" {
		return nil, NewValidationError("name", "policy name is required")
	}
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	policy.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_policies (id, tenant_id, project_id, name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		policy.ID, policy.TenantID, policy.ProjectID, policy.Name, policy.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert policy: %w", err)
	}
	return policy, nil
}

// GetPolicy loads one policy.
func (s *AlertStore) GetPolicy(ctx context.Context, tenantID, id string) (*models.AlertPolicy, error) {
	var policy models.AlertPolicy
	err := s.db.GetContext(ctx, &policy,
		`SELECT * FROM alert_policies WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, noRows(err, "alert policy")
	}
	return &policy, nil
}

// ListPolicies returns a project's policies.
func (s *AlertStore) ListPolicies(ctx context.Context, tenantID, projectID string) ([]*models.AlertPolicy, error) {
	policies := []*models.AlertPolicy{}
	err := s.db.SelectContext(ctx, &policies,
		`SELECT * FROM alert_policies WHERE tenant_id = $1 AND project_id = $2 ORDER BY created_at`,
		tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert policies: %w", err)
	}
	return policies, nil
}

// CreateChannel persists a notification channel. Config arrives already
// encrypted.
func (s *AlertStore) CreateChannel(ctx context.Context, channel *models.NotificationChannel) (*models.NotificationChannel, error) {
	if channel.Name == "" {
		return nil, NewValidationError("name", "channel name is required")
	}
	if !channel.Type.Valid() {
		return nil, NewValidationError("type", fmt.Sprintf("unknown channel type '%s'", channel.Type))
	}
	if channel.ID == "" {
		channel.ID = uuid.New().String()
	}
	channel.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_channels (id, tenant_id, project_id, name, type, config, is_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		channel.ID, channel.TenantID, channel.ProjectID, channel.Name, channel.Type,
		channel.Config, channel.IsEnabled, channel.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification channel: %w", err)
	}
	return channel, nil
}

// GetChannel loads one notification channel, config still encrypted.
func (s *AlertStore) GetChannel(ctx context.Context, tenantID, id string) (*models.NotificationChannel, error) {
	var channel models.NotificationChannel
	err := s.db.GetContext(ctx, &channel,
		`SELECT * FROM notification_channels WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, noRows(err, "notification channel")
	}
	return &channel, nil
}

// ListChannels returns a project's channels, config still encrypted.
func (s *AlertStore) ListChannels(ctx context.Context, tenantID, projectID string) ([]*models.NotificationChannel, error) {
	channels := []*models.NotificationChannel{}
	err := s.db.SelectContext(ctx, &channels,
		`SELECT * FROM notification_channels WHERE tenant_id = $1 AND project_id = $2 ORDER BY created_at`,
		tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification channels: %w", err)
	}
	return channels, nil
}

// BindChannel attaches a channel to a policy. Idempotent.
func (s *AlertStore) BindChannel(ctx context.Context, policyID, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_channels (policy_id, channel_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		policyID, channelID)
	if err != nil {
		return fmt.Errorf("failed to bind channel to policy: %w", err)
	}
	return nil
}

// PolicyChannels resolves the enabled channels bound to a policy.
func (s *AlertStore) PolicyChannels(ctx context.Context, policyID string) ([]*models.NotificationChannel, error) {
	channels := []*models.NotificationChannel{}
	err := s.db.SelectContext(ctx, &channels,
		`SELECT nc.* FROM notification_channels nc
		 JOIN policy_channels pc ON pc.channel_id = nc.id
		 WHERE pc.policy_id = $1 AND nc.is_enabled
		 ORDER BY nc.created_at`,
		policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy channels: %w", err)
	}
	return channels, nil
}

// CreateMutingRule persists a muting rule.
func (s *AlertStore) CreateMutingRule(ctx context.Context, rule *models.MutingRule) (*models.MutingRule, error) {
	if rule.Name == "" {
		return nil, NewValidationError("name", "muting rule name is required")
	}
	if !rule.EndsAt.After(rule.StartsAt) {
		return nil, NewValidationError("ends_at", "muting window must end after it starts")
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO muting_rules (id, tenant_id, project_id, name, matchers, starts_at, ends_at, is_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rule.ID, rule.TenantID, rule.ProjectID, rule.Name, rule.Matchers,
		rule.StartsAt, rule.EndsAt, rule.IsEnabled, rule.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create muting rule: %w", err)
	}
	return rule, nil
}

// DeleteMutingRule removes a muting rule.
func (s *AlertStore) DeleteMutingRule(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM muting_rules WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete muting rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("muting rule: %w", ErrNotFound)
	}
	return nil
}

// ListMutingRules returns a project's muting rules.
func (s *AlertStore) ListMutingRules(ctx context.Context, tenantID, projectID string) ([]*models.MutingRule, error) {
	rules := []*models.MutingRule{}
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM muting_rules WHERE tenant_id = $1 AND project_id = $2 ORDER BY created_at`,
		tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list muting rules: %w", err)
	}
	return rules, nil
}

// GetFiringAlert returns the single firing alert of a condition, or
// ErrNotFound when none is firing.
func (s *AlertStore) GetFiringAlert(ctx context.Context, conditionID string) (*models.ActiveAlert, error) {
	var alert models.ActiveAlert
	err := s.db.GetContext(ctx, &alert,
		`SELECT * FROM active_alerts WHERE condition_id = $1 AND status = $2`,
		conditionID, models.AlertFiring)
	if err != nil {
		return nil, noRows(err, "firing alert")
	}
	return &alert, nil
}

// CreateActiveAlert inserts a firing alert. The partial unique index
// turns a duplicate firing row into ErrAlreadyExists, which makes
// duplicate ticks and racing evaluators collapse to one alert.
func (s *AlertStore) CreateActiveAlert(ctx context.Context, alert *models.ActiveAlert) (*models.ActiveAlert, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.FiredAt.IsZero() {
		alert.FiredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_alerts (id, tenant_id, project_id, condition_id, title, description, severity, status, metric_value, fired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.ID, alert.TenantID, alert.ProjectID, alert.ConditionID, alert.Title,
		alert.Description, alert.Severity, alert.Status, alert.MetricValue, alert.FiredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("condition already firing: %w", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create active alert: %w", err)
	}
	return alert, nil
}

// ResolveFiringAlert flips the condition's firing alert to resolved and
// stamps resolved_at. Returns ErrNotFound when nothing was firing, so a
// duplicate tick is a no-op.
func (s *AlertStore) ResolveFiringAlert(ctx context.Context, conditionID string, value float64) (*models.ActiveAlert, error) {
	var alert models.ActiveAlert
	err := s.db.GetContext(ctx, &alert,
		`UPDATE active_alerts
		 SET status = $1, resolved_at = now(), metric_value = $2
		 WHERE condition_id = $3 AND status = $4
		 RETURNING *`,
		models.AlertResolved, value, conditionID, models.AlertFiring)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("firing alert: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return &alert, nil
}

// AcknowledgeAlert marks a firing alert acknowledged.
func (s *AlertStore) AcknowledgeAlert(ctx context.Context, tenantID, id string) (*models.ActiveAlert, error) {
	var alert models.ActiveAlert
	err := s.db.GetContext(ctx, &alert,
		`UPDATE active_alerts SET status = $1
		 WHERE id = $2 AND tenant_id = $3 AND status = $4
		 RETURNING *`,
		models.AlertAcknowledged, id, tenantID, models.AlertFiring)
	if err != nil {
		return nil, noRows(err, "firing alert")
	}
	return &alert, nil
}

// ListActiveAlerts returns a project's alerts, optionally filtered by
// status, newest first.
func (s *AlertStore) ListActiveAlerts(ctx context.Context, tenantID, projectID string, status models.AlertStatus) ([]*models.ActiveAlert, error) {
	alerts := []*models.ActiveAlert{}
	err := s.db.SelectContext(ctx, &alerts,
		`SELECT * FROM active_alerts
		 WHERE tenant_id = $1 AND project_id = $2 AND ($3 = '' OR status = $3)
		 ORDER BY fired_at DESC`,
		tenantID, projectID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return alerts, nil
}

// DeleteResolvedBefore removes resolved alerts whose resolution is
// older than the cutoff. Firing and acknowledged alerts are never
// touched.
func (s *AlertStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM active_alerts WHERE status = $1 AND resolved_at IS NOT NULL AND resolved_at < $2`,
		string(models.AlertResolved), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted alerts: %w", err)
	}
	return deleted, nil
}

func validateCondition(cond *models.AlertCondition) error {
	if cond.Name == "" {
		return NewValidationError("name", "condition name is required")
	}
	if cond.MetricName == "" {
		return NewValidationError("metric_name", "metric name is required")
	}
	if !cond.Operator.Valid() {
		return NewValidationError("operator", fmt.Sprintf("unknown operator '%s'", cond.Operator))
	}
	if cond.DurationMinutes <= 0 {
		return NewValidationError("duration_minutes", "duration must be positive")
	}
	if !cond.Severity.Valid() {
		return NewValidationError("severity", fmt.Sprintf("unknown severity '%s'", cond.Severity))
	}
	return nil
}
