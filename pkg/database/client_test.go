package database_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/database"
	"github.com/stratushq/stratus/test/util"
)

func TestClientPoolAndHealth(t *testing.T) {
	db := util.SetupTestDatabase(t)
	client := database.NewClientFromDB(db)
	ctx := context.Background()

	require.NoError(t, client.DB().PingContext(ctx))

	health, err := database.Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestMigrationsCreateCoreTables(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	for _, table := range []string{
		"tenants", "projects", "api_keys",
		"metric_points", "transactions", "spans", "log_records",
		"host_samples", "browser_events", "vulnerabilities",
		"error_groups", "error_occurrences", "service_registrations",
		"incidents", "activities", "hypotheses", "analysis_steps", "ai_requests",
		"alert_policies", "notification_channels", "policy_channels",
		"alert_conditions", "muting_rules", "active_alerts",
		"webhook_connections", "deployments", "events",
	} {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables
			 WHERE table_schema = current_schema() AND table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist after migrations", table)
	}
}

func TestFiringUniqueIndex(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO tenants (id, name, slug) VALUES ('t1', 'T1', 't1')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO projects (id, tenant_id, name, slug) VALUES ('p1', 't1', 'P1', 'p1')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO alert_conditions
		(id, tenant_id, project_id, name, metric_name, operator, threshold, duration_minutes, severity)
		VALUES ('c1', 't1', 'p1', 'High CPU', 'cpu_percent', '>', 90, 5, 'critical')`)
	require.NoError(t, err)

	insertAlert := `INSERT INTO active_alerts
		(id, tenant_id, project_id, condition_id, title, severity, status, metric_value, fired_at)
		VALUES ($1, 't1', 'p1', 'c1', 'High CPU', 'critical', $2, 95, now())`

	_, err = db.ExecContext(ctx, insertAlert, "a1", "firing")
	require.NoError(t, err)

	// Second firing row for the same condition must be rejected
	_, err = db.ExecContext(ctx, insertAlert, "a2", "firing")
	require.Error(t, err)

	// A resolved row for the same condition is fine
	_, err = db.ExecContext(ctx, insertAlert, "a3", "resolved")
	require.NoError(t, err)
}

func TestHealthReportsMilliseconds(t *testing.T) {
	db := util.SetupTestDatabase(t)

	health, err := database.Health(context.Background(), db)
	require.NoError(t, err)
	require.NotNil(t, health)

	raw, err := json.Marshal(health)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	rt, ok := fields["response_time_ms"].(float64)
	require.True(t, ok, "response_time_ms must be numeric")
	// A nanosecond reading would blow straight past this bound.
	assert.Less(t, rt, float64(10_000))
}

func TestLoadConfigFromEnv(t *testing.T) {
	// Setting each variable to "" both hides any ambient value and restores
	// it when the subtest ends.
	clearDBEnv := func(t *testing.T) {
		for _, key := range []string{
			"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
			"DB_SSLMODE", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		} {
			t.Setenv(key, "")
		}
	}

	t.Run("defaults", func(t *testing.T) {
		clearDBEnv(t)

		cfg, err := database.LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "stratus", cfg.User)
		assert.Equal(t, "stratus", cfg.Database)
		assert.Equal(t, "disable", cfg.SSLMode)
		assert.Equal(t, 10, cfg.MaxOpenConns)
		assert.Equal(t, 5, cfg.MaxIdleConns)
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearDBEnv(t)
		t.Setenv("DB_HOST", "db.internal")
		t.Setenv("DB_PORT", "6432")
		t.Setenv("DB_USER", "ops")
		t.Setenv("DB_PASSWORD", "hunter2")
		t.Setenv("DB_NAME", "stratus_prod")
		t.Setenv("DB_SSLMODE", "require")
		t.Setenv("DB_MAX_OPEN_CONNS", "40")

		cfg, err := database.LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "db.internal", cfg.Host)
		assert.Equal(t, 6432, cfg.Port)
		assert.Equal(t, "ops", cfg.User)
		assert.Equal(t, "hunter2", cfg.Password)
		assert.Equal(t, "stratus_prod", cfg.Database)
		assert.Equal(t, "require", cfg.SSLMode)
		assert.Equal(t, 40, cfg.MaxOpenConns)
	})

	t.Run("unparsable port is rejected", func(t *testing.T) {
		clearDBEnv(t)
		t.Setenv("DB_PORT", "fivefourthreetwo")

		_, err := database.LoadConfigFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid DB_PORT")
	})

	t.Run("unparsable pool sizes fall back to defaults", func(t *testing.T) {
		clearDBEnv(t)
		t.Setenv("DB_MAX_OPEN_CONNS", "lots")
		t.Setenv("DB_MAX_IDLE_CONNS", "-3")

		cfg, err := database.LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.MaxOpenConns)
		assert.Equal(t, 5, cfg.MaxIdleConns)
	})
}

func TestConfigDSN(t *testing.T) {
	cfg := database.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "stratus",
		Password: "pw",
		Database: "stratus",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=stratus password=pw dbname=stratus sslmode=disable",
		cfg.DSN())
}
