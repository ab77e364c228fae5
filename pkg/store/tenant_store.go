package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// TenantStore handles tenants and their projects.
type TenantStore struct {
	db *sqlx.DB
}

// NewTenantStore creates a new TenantStore.
func NewTenantStore(db *sqlx.DB) *TenantStore {
	return &TenantStore{db: db}
}

// CreateTenant persists a new tenant.
func (s *TenantStore) CreateTenant(ctx context.Context, name, slug string) (*models.Tenant, error) {
	if name == "" {
		return nil, NewValidationError("name", "tenant name is required")
	}
	if slug == "" {
		return nil, NewValidationError("slug", "tenant slug is required")
	}

	tenant := &models.Tenant{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      slug,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, created_at) VALUES ($1, $2, $3, $4)`,
		tenant.ID, tenant.Name, tenant.Slug, tenant.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("tenant slug %q: %w", slug, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	return tenant, nil
}

// GetTenant loads one tenant by ID.
func (s *TenantStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.GetContext(ctx, &tenant, `SELECT * FROM tenants WHERE id = $1`, id)
	if err != nil {
		return nil, noRows(err, "tenant")
	}
	return &tenant, nil
}

// CreateProject persists a new project under a tenant. (tenant_id, slug)
// is unique.
func (s *TenantStore) CreateProject(ctx context.Context, tenantID, name, slug string) (*models.Project, error) {
	if name == "" {
		return nil, NewValidationError("name", "project name is required")
	}
	if slug == "" {
		return nil, NewValidationError("slug", "project slug is required")
	}

	project := &models.Project{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      name,
		Slug:      slug,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, tenant_id, name, slug, created_at) VALUES ($1, $2, $3, $4, $5)`,
		project.ID, project.TenantID, project.Name, project.Slug, project.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("project slug %q: %w", slug, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// GetProject loads one project scoped by tenant.
func (s *TenantStore) GetProject(ctx context.Context, tenantID, projectID string) (*models.Project, error) {
	var project models.Project
	err := s.db.GetContext(ctx, &project,
		`SELECT * FROM projects WHERE id = $1 AND tenant_id = $2`, projectID, tenantID)
	if err != nil {
		return nil, noRows(err, "project")
	}
	return &project, nil
}

// ListProjects returns every project of a tenant.
func (s *TenantStore) ListProjects(ctx context.Context, tenantID string) ([]*models.Project, error) {
	projects := []*models.Project{}
	err := s.db.SelectContext(ctx, &projects,
		`SELECT * FROM projects WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// ListAllProjects returns every project across all tenants. The
// bootstrap seeder reconciles the whole installation.
func (s *TenantStore) ListAllProjects(ctx context.Context) ([]*models.Project, error) {
	projects := []*models.Project{}
	err := s.db.SelectContext(ctx, &projects,
		`SELECT * FROM projects ORDER BY tenant_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all projects: %w", err)
	}
	return projects, nil
}
