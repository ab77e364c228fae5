package store

import "github.com/jmoiron/sqlx"

// Store bundles every repository over one shared pool. Constructed once
// at startup and passed by reference; no package-level state.
type Store struct {
	Tenants     *TenantStore
	APIKeys     *APIKeyStore
	Telemetry   *TelemetryStore
	Errors      *ErrorStore
	Services    *ServiceStore
	Incidents   *IncidentStore
	Alerts      *AlertStore
	Deployments *DeploymentStore
	Events      *EventStore

	db *sqlx.DB
}

// New creates a Store over db.
func New(db *sqlx.DB) *Store {
	if db == nil {
		panic("store.New: db must not be nil")
	}
	return &Store{
		Tenants:     NewTenantStore(db),
		APIKeys:     NewAPIKeyStore(db),
		Telemetry:   NewTelemetryStore(db),
		Errors:      NewErrorStore(db),
		Services:    NewServiceStore(db),
		Incidents:   NewIncidentStore(db),
		Alerts:      NewAlertStore(db),
		Deployments: NewDeploymentStore(db),
		Events:      NewEventStore(db),
		db:          db,
	}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
