package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/events"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
	"github.com/stratushq/stratus/test/util"
)

type testEnv struct {
	db        *sqlx.DB
	stores    *store.Store
	publisher *events.EventPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)
	return &testEnv{
		db:        db,
		stores:    store.New(db),
		publisher: events.NewEventPublisher(db),
	}
}

func seedProject(t *testing.T, stores *store.Store) *models.Project {
	t.Helper()
	ctx := context.Background()

	tenant, err := stores.Tenants.CreateTenant(ctx, "Acme Corp", "acme-"+uuid.NewString()[:8])
	require.NoError(t, err)
	project, err := stores.Tenants.CreateProject(ctx, tenant.ID, "Checkout", "checkout")
	require.NoError(t, err)
	return project
}

// seedCondition creates an enabled error-rate condition; mutate adjusts
// it before persisting.
func seedCondition(t *testing.T, stores *store.Store, project *models.Project, mutate func(*models.AlertCondition)) *models.AlertCondition {
	t.Helper()

	cond := &models.AlertCondition{
		TenantID:        project.TenantID,
		ProjectID:       project.ID,
		Name:            "High error rate",
		MetricName:      "error_rate",
		Operator:        models.OpGreaterThan,
		Threshold:       5,
		DurationMinutes: 5,
		Severity:        models.SeverityHigh,
		IsEnabled:       true,
	}
	if mutate != nil {
		mutate(cond)
	}
	created, err := stores.Alerts.CreateCondition(context.Background(), cond)
	require.NoError(t, err)
	return created
}

func insertMetricPoints(t *testing.T, stores *store.Store, project *models.Project, metricName string, values ...float64) {
	t.Helper()

	now := time.Now().UTC()
	points := make([]*models.MetricPoint, 0, len(values))
	for _, v := range values {
		points = append(points, &models.MetricPoint{
			TenantID:    project.TenantID,
			ProjectID:   project.ID,
			ServiceName: "checkout",
			MetricName:  metricName,
			Value:       v,
			Kind:        models.MetricGauge,
			Timestamp:   now,
		})
	}
	require.NoError(t, stores.Telemetry.InsertMetricPoints(context.Background(), points))
}

func insertTransactions(t *testing.T, stores *store.Store, project *models.Project, durations []float64, errored []bool) {
	t.Helper()

	now := time.Now().UTC()
	txns := make([]*models.Transaction, 0, len(durations))
	for i, d := range durations {
		txns = append(txns, &models.Transaction{
			TenantID:    project.TenantID,
			ProjectID:   project.ID,
			ServiceName: "checkout",
			Endpoint:    "/checkout",
			Method:      "POST",
			StatusCode:  200,
			DurationMS:  d,
			Error:       errored[i],
			Timestamp:   now,
		})
	}
	require.NoError(t, stores.Telemetry.InsertTransactions(context.Background(), txns))
}

func countEventsOfType(t *testing.T, db *sqlx.DB, tenantID, eventType string) int {
	t.Helper()

	var n int
	require.NoError(t, db.GetContext(context.Background(), &n,
		`SELECT COUNT(*) FROM events WHERE tenant_id = $1 AND payload::jsonb->>'type' = $2`,
		tenantID, eventType))
	return n
}
