package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// ServiceStore tracks services discovered from ingest traffic.
type ServiceStore struct {
	db *sqlx.DB
}

// NewServiceStore creates a new ServiceStore.
func NewServiceStore(db *sqlx.DB) *ServiceStore {
	return &ServiceStore{db: db}
}

// UpsertRegistration records that a service was seen. First sight
// creates the row; later sights refresh last_seen and source.
func (s *ServiceStore) UpsertRegistration(ctx context.Context, tenantID, projectID, serviceName, source, serviceType string) error {
	if serviceName == "" {
		return NewValidationError("service_name", "service name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_registrations (id, tenant_id, project_id, service_name, source, type, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (project_id, service_name) DO UPDATE
		   SET last_seen = EXCLUDED.last_seen,
		       source = EXCLUDED.source`,
		uuid.New().String(), tenantID, projectID, serviceName, source, serviceType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert service registration: %w", err)
	}
	return nil
}

// List returns every registered service of a project, most recently
// seen first.
func (s *ServiceStore) List(ctx context.Context, tenantID, projectID string) ([]*models.ServiceRegistration, error) {
	services := []*models.ServiceRegistration{}
	err := s.db.SelectContext(ctx, &services,
		`SELECT * FROM service_registrations WHERE tenant_id = $1 AND project_id = $2
		 ORDER BY last_seen DESC`,
		tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list service registrations: %w", err)
	}
	return services, nil
}
