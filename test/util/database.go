// Package util provides the shared database scaffolding for
// integration tests.
package util

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stratushq/stratus/pkg/database"
)

// One Postgres serves every test; isolation comes from per-test
// schemas. CI points CI_DATABASE_URL at a service container; local runs
// start a testcontainer once per package.
var (
	baseOnce sync.Once
	baseDSN  string
	baseErr  error
)

// SetupTestDatabase returns an open, fully migrated *sqlx.DB scoped to
// a schema owned by this test. Schema and connection are torn down in
// t.Cleanup.
func SetupTestDatabase(t *testing.T) *sqlx.DB {
	ctx := context.Background()
	dsn := GetBaseConnectionString(t)
	schema := schemaName(t)

	admin, err := sqlx.Open("pgx", dsn)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	_ = admin.Close()
	t.Logf("Created test schema: %s", schema)

	// search_path rides the connection string so every pooled
	// connection lands in the test schema, migrations included.
	db, err := sqlx.Open("pgx", withSearchPath(dsn, schema))
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, database.Migrate(db, "test"))

	t.Cleanup(func() {
		if _, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, err)
		}
		_ = db.Close()
	})

	return db
}

// GetBaseConnectionString returns the shared database's connection
// string without a search_path. Integration tests that need a raw
// dedicated connection (the NOTIFY listener's pgx.Conn) use this
// directly.
func GetBaseConnectionString(t *testing.T) string {
	if dsn := os.Getenv("CI_DATABASE_URL"); dsn != "" {
		t.Log("Using Postgres provided via CI_DATABASE_URL")
		return dsn
	}

	baseOnce.Do(func() {
		t.Log("Launching shared Postgres testcontainer")
		container, err := postgres.Run(context.Background(),
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			baseErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}
		baseDSN, baseErr = container.ConnectionString(context.Background(), "sslmode=disable")
	})

	require.NoError(t, baseErr, "shared test container unavailable")
	return baseDSN
}

// schemaName derives a unique Postgres-safe schema identifier from the
// test name, kept under the 63-char identifier limit.
func schemaName(t *testing.T) string {
	var b strings.Builder
	for _, r := range strings.ToLower(t.Name()) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("failed to generate schema suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(suffix))
}

// withSearchPath appends a search_path parameter to a connection
// string.
func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + schema
}
