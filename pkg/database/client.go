// Package database owns the PostgreSQL pool, embedded schema migrations,
// and connection health reporting for the control plane.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx driver with database/sql
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds PostgreSQL connection settings plus pool tuning.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the keyword/value connection string understood by pgx.
func (c Config) DSN() string {
	pairs := []string{
		"host=" + c.Host,
		"port=" + strconv.Itoa(c.Port),
		"user=" + c.User,
		"password=" + c.Password,
		"dbname=" + c.Database,
		"sslmode=" + c.SSLMode,
	}
	return strings.Join(pairs, " ")
}

func (c Config) tunePool(db *sqlx.DB) {
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// Client owns the sqlx pool shared by every store.
type Client struct {
	db *sqlx.DB
}

// DB exposes the pool for stores and health checks.
func (c *Client) DB() *sqlx.DB { return c.db }

// Close releases the pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClientFromDB wraps a pool the caller already opened. Tests use this to
// hand in schema-scoped connections.
func NewClientFromDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

// NewClient connects, applies pool settings, and brings the schema up to
// date before returning.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	cfg.tunePool(db)

	if err := Migrate(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{db: db}, nil
}

// Migrate applies any pending schema migrations from the files compiled into
// the binary, so deployments never depend on migration assets on disk.
// Objects land in whatever schema the pool's search_path selects, which is
// how integration tests isolate themselves per schema.
func Migrate(db *sqlx.DB, database string) error {
	ok, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to inspect embedded migrations: %w", err)
	}
	if !ok {
		return errors.New("no migration files embedded - the binary was built without pkg/database/migrations")
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migration source: %w", err)
	}

	target, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, database, target)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("failed to build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}

	// Release only the iofs source. m.Close() is off limits: it would also
	// close the postgres driver, which closes the shared pool it was handed
	// through postgres.WithInstance.
	if err := src.Close(); err != nil {
		return fmt.Errorf("failed to release migration source: %w", err)
	}
	return nil
}

// hasEmbeddedMigrations reports whether any .sql files made it into the
// embedded FS. An empty set means the build is missing its migrations.
func hasEmbeddedMigrations() (bool, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}
