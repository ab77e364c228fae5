package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/models"
)

func TestAlertStore_Conditions(t *testing.T) {
	st := newTestStore(t)
	tenant, project := seedProject(t, st)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		cond := seedCondition(t, st, tenant.ID, project.ID)

		got, err := st.Alerts.GetCondition(ctx, tenant.ID, cond.ID)
		require.NoError(t, err)
		assert.Equal(t, "High error rate", got.Name)
		assert.Equal(t, models.OpGreaterThan, got.Operator)
		assert.Equal(t, 5.0, got.Threshold)
		assert.True(t, got.IsEnabled)
	})

	t.Run("update replaces mutable fields", func(t *testing.T) {
		cond, err := st.Alerts.GetConditionByName(ctx, tenant.ID, project.ID, "High error rate")
		require.NoError(t, err)

		cond.Threshold = 10
		cond.IsEnabled = false
		updated, err := st.Alerts.UpdateCondition(ctx, cond)
		require.NoError(t, err)
		assert.Equal(t, 10.0, updated.Threshold)
		assert.False(t, updated.IsEnabled)
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	})

	t.Run("enabled listing skips disabled rules", func(t *testing.T) {
		enabled, err := st.Alerts.ListEnabledConditions(ctx)
		require.NoError(t, err)
		assert.Empty(t, enabled, "the only condition is disabled now")
	})

	t.Run("validation", func(t *testing.T) {
		_, err := st.Alerts.CreateCondition(ctx, &models.AlertCondition{
			TenantID:        tenant.ID,
			ProjectID:       project.ID,
			Name:            "bad operator",
			MetricName:      "cpu",
			Operator:        models.Operator("~"),
			DurationMinutes: 5,
			Severity:        models.SeverityLow,
		})
		assert.True(t, IsValidationError(err))

		_, err = st.Alerts.CreateCondition(ctx, &models.AlertCondition{
			TenantID:        tenant.ID,
			ProjectID:       project.ID,
			Name:            "bad duration",
			MetricName:      "cpu",
			Operator:        models.OpGreaterThan,
			DurationMinutes: 0,
			Severity:        models.SeverityLow,
		})
		assert.True(t, IsValidationError(err))
	})

	t.Run("delete", func(t *testing.T) {
		cond, err := st.Alerts.GetConditionByName(ctx, tenant.ID, project.ID, "High error rate")
		require.NoError(t, err)

		require.NoError(t, st.Alerts.DeleteCondition(ctx, tenant.ID, cond.ID))
		assert.ErrorIs(t, st.Alerts.DeleteCondition(ctx, tenant.ID, cond.ID), ErrNotFound)
	})
}

func TestAlertStore_PolicyChannels(t *testing.T) {
	st := newTestStore(t)
	tenant, project := seedProject(t, st)
	ctx := context.Background()

	policy, err := st.Alerts.CreatePolicy(ctx, &models.AlertPolicy{
		TenantID:  tenant.ID,
		ProjectID: project.ID,
		Name:      "payments oncall",
	})
	require.NoError(t, err)

	slackCh, err := st.Alerts.CreateChannel(ctx, &models.NotificationChannel{
		TenantID:  tenant.ID,
		ProjectID: project.ID,
		Name:      "team slack",
		Type:      models.ChannelSlack,
		Config:    "ciphertext-slack",
		IsEnabled: true,
	})
	require.NoError(t, err)

	disabledCh, err := st.Alerts.CreateChannel(ctx, &models.NotificationChannel{
		TenantID:  tenant.ID,
		ProjectID: project.ID,
		Name:      "old pagerduty",
		Type:      models.ChannelPagerDuty,
		Config:    "ciphertext-pd",
		IsEnabled: false,
	})
	require.NoError(t, err)

	require.NoError(t, st.Alerts.BindChannel(ctx, policy.ID, slackCh.ID))
	require.NoError(t, st.Alerts.BindChannel(ctx, policy.ID, disabledCh.ID))
	require.NoError(t, st.Alerts.BindChannel(ctx, policy.ID, slackCh.ID), "rebind is idempotent")

	channels, err := st.Alerts.PolicyChannels(ctx, policy.ID)
	require.NoError(t, err)
	require.Len(t, channels, 1, "disabled channels are not resolved")
	assert.Equal(t, slackCh.ID, channels[0].ID)
	assert.Equal(t, "ciphertext-slack", channels[0].Config)

	t.Run("rejects unknown channel type", func(t *testing.T) {
		_, err := st.Alerts.CreateChannel(ctx, &models.NotificationChannel{
			TenantID:  tenant.ID,
			ProjectID: project.ID,
			Name:      "carrier pigeon",
			Type:      models.ChannelType("pigeon"),
		})
		assert.True(t, IsValidationError(err))
	})
}

func TestAlertStore_MutingRules(t *testing.T) {
	st := newTestStore(t)
	tenant, project := seedProject(t, st)
	ctx := context.Background()
	now := time.Now().UTC()

	rule, err := st.Alerts.CreateMutingRule(ctx, &models.MutingRule{
		TenantID:  tenant.ID,
		ProjectID: project.ID,
		Name:      "weekend maintenance",
		Matchers:  models.JSONMap{"service": "checkout"},
		StartsAt:  now.Add(-time.Hour),
		EndsAt:    now.Add(time.Hour),
		IsEnabled: true,
	})
	require.NoError(t, err)

	t.Run("window must be ordered", func(t *testing.T) {
		_, err := st.Alerts.CreateMutingRule(ctx, &models.MutingRule{
			TenantID:  tenant.ID,
			ProjectID: project.ID,
			Name:      "inverted window",
			StartsAt:  now.Add(time.Hour),
			EndsAt:    now,
			IsEnabled: true,
		})
		assert.True(t, IsValidationError(err))
	})

	t.Run("list and matchers round-trip", func(t *testing.T) {
		rules, err := st.Alerts.ListMutingRules(ctx, tenant.ID, project.ID)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "checkout", rules[0].Matchers["service"])
		assert.True(t, rules[0].ActiveWithin(now))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, st.Alerts.DeleteMutingRule(ctx, tenant.ID, rule.ID))
		assert.ErrorIs(t, st.Alerts.DeleteMutingRule(ctx, tenant.ID, rule.ID), ErrNotFound)
	})
}

func TestAlertStore_ActiveAlerts(t *testing.T) {
	st := newTestStore(t)
	tenant, project := seedProject(t, st)
	ctx := context.Background()

	cond := seedCondition(t, st, tenant.ID, project.ID)

	fire := func() (*models.ActiveAlert, error) {
		return st.Alerts.CreateActiveAlert(ctx, &models.ActiveAlert{
			TenantID:    tenant.ID,
			ProjectID:   project.ID,
			ConditionID: cond.ID,
			Title:       "High error rate",
			Description: "error rate 12.5 > 5",
			Severity:    cond.Severity,
			Status:      models.AlertFiring,
			MetricValue: 12.5,
		})
	}

	t.Run("second firing collapses into the first", func(t *testing.T) {
		first, err := fire()
		require.NoError(t, err)
		assert.False(t, first.FiredAt.IsZero())

		_, err = fire()
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := st.Alerts.GetFiringAlert(ctx, cond.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("resolve flips status and stamps resolved_at", func(t *testing.T) {
		resolved, err := st.Alerts.ResolveFiringAlert(ctx, cond.ID, 2.1)
		require.NoError(t, err)
		assert.Equal(t, models.AlertResolved, resolved.Status)
		assert.Equal(t, 2.1, resolved.MetricValue)
		require.NotNil(t, resolved.ResolvedAt)

		_, err = st.Alerts.ResolveFiringAlert(ctx, cond.ID, 2.1)
		assert.ErrorIs(t, err, ErrNotFound, "duplicate resolve is a no-op")
	})

	t.Run("new firing allowed after resolution", func(t *testing.T) {
		again, err := fire()
		require.NoError(t, err)

		alerts, err := st.Alerts.ListActiveAlerts(ctx, tenant.ID, project.ID, "")
		require.NoError(t, err)
		assert.Len(t, alerts, 2)

		firing, err := st.Alerts.ListActiveAlerts(ctx, tenant.ID, project.ID, models.AlertFiring)
		require.NoError(t, err)
		require.Len(t, firing, 1)
		assert.Equal(t, again.ID, firing[0].ID)
	})

	t.Run("acknowledge only applies to firing alerts", func(t *testing.T) {
		firing, err := st.Alerts.GetFiringAlert(ctx, cond.ID)
		require.NoError(t, err)

		acked, err := st.Alerts.AcknowledgeAlert(ctx, tenant.ID, firing.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AlertAcknowledged, acked.Status)

		_, err = st.Alerts.AcknowledgeAlert(ctx, tenant.ID, firing.ID)
		assert.ErrorIs(t, err, ErrNotFound, "already acknowledged")
	})

	t.Run("deleting the condition cascades", func(t *testing.T) {
		require.NoError(t, st.Alerts.DeleteCondition(ctx, tenant.ID, cond.ID))

		alerts, err := st.Alerts.ListActiveAlerts(ctx, tenant.ID, project.ID, "")
		require.NoError(t, err)
		assert.Empty(t, alerts)
	})
}
