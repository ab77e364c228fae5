package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/test/util"
)

// newTestStore creates a Store over a fresh schema in the shared test
// database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(util.SetupTestDatabase(t))
}

// seedProject creates one tenant with one project for tests that need a
// FK target.
func seedProject(t *testing.T, st *Store) (*models.Tenant, *models.Project) {
	t.Helper()
	ctx := context.Background()

	tenant, err := st.Tenants.CreateTenant(ctx, "Acme Corp", "acme")
	require.NoError(t, err)
	project, err := st.Tenants.CreateProject(ctx, tenant.ID, "Checkout", "checkout")
	require.NoError(t, err)
	return tenant, project
}

// seedCondition creates one enabled alert condition under the project.
func seedCondition(t *testing.T, st *Store, tenantID, projectID string) *models.AlertCondition {
	t.Helper()

	cond, err := st.Alerts.CreateCondition(context.Background(), &models.AlertCondition{
		TenantID:        tenantID,
		ProjectID:       projectID,
		Name:            "High error rate",
		MetricName:      "http_error_rate",
		Service:         "checkout",
		Operator:        models.OpGreaterThan,
		Threshold:       5,
		DurationMinutes: 5,
		Severity:        models.SeverityCritical,
		IsEnabled:       true,
	})
	require.NoError(t, err)
	return cond
}
