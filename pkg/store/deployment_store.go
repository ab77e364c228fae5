package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// DeploymentStore persists CI webhook connections and the deployment
// events they deliver.
type DeploymentStore struct {
	db *sqlx.DB
}

// NewDeploymentStore creates a new DeploymentStore.
func NewDeploymentStore(db *sqlx.DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

// CreateConnection persists a webhook connection. Secret arrives
// already encrypted.
func (s *DeploymentStore) CreateConnection(ctx context.Context, conn *models.WebhookConnection) (*models.WebhookConnection, error) {
	if conn.Provider == "" {
		return nil, NewValidationError("provider", "provider is required")
	}
	if conn.Secret == "" {
		return nil, NewValidationError("secret", "webhook secret is required")
	}
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	conn.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_connections (id, tenant_id, project_id, provider, secret, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		conn.ID, conn.TenantID, conn.ProjectID, conn.Provider, conn.Secret, conn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook connection: %w", err)
	}
	return conn, nil
}

// GetConnection loads a webhook connection by ID. Webhook deliveries
// carry the connection ID in the path, not a tenant, so this lookup is
// unscoped; the stored secret authenticates the caller.
func (s *DeploymentStore) GetConnection(ctx context.Context, id string) (*models.WebhookConnection, error) {
	var conn models.WebhookConnection
	err := s.db.GetContext(ctx, &conn,
		`SELECT * FROM webhook_connections WHERE id = $1`, id)
	if err != nil {
		return nil, noRows(err, "webhook connection")
	}
	return &conn, nil
}

// InsertDeployment records one delivered CI event.
func (s *DeploymentStore) InsertDeployment(ctx context.Context, dep *models.Deployment) (*models.Deployment, error) {
	if dep.ID == "" {
		dep.ID = uuid.New().String()
	}
	dep.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, tenant_id, project_id, connection_id, provider, event_type,
		   service_name, ref, sha, status, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		dep.ID, dep.TenantID, dep.ProjectID, dep.ConnectionID, dep.Provider, dep.EventType,
		dep.ServiceName, dep.Ref, dep.SHA, dep.Status, dep.Actor, dep.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deployment: %w", err)
	}
	return dep, nil
}

// ListDeployments returns a project's deployments, newest first.
func (s *DeploymentStore) ListDeployments(ctx context.Context, tenantID, projectID string, limit int) ([]*models.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	deps := []*models.Deployment{}
	err := s.db.SelectContext(ctx, &deps,
		`SELECT * FROM deployments WHERE tenant_id = $1 AND project_id = $2
		 ORDER BY created_at DESC LIMIT $3`,
		tenantID, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return deps, nil
}
