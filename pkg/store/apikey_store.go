package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// APIKeyStore handles ingest credentials. Only key hashes are stored;
// lookups are always by hash.
type APIKeyStore struct {
	db *sqlx.DB
}

// NewAPIKeyStore creates a new APIKeyStore.
func NewAPIKeyStore(db *sqlx.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Create persists a key record. The caller hashes the raw key; the raw
// key never reaches this layer.
func (s *APIKeyStore) Create(ctx context.Context, key *models.APIKey) (*models.APIKey, error) {
	if key.Name == "" {
		return nil, NewValidationError("name", "key name is required")
	}
	if key.KeyHash == "" {
		return nil, NewValidationError("key_hash", "key hash is required")
	}
	if len(key.Scopes) == 0 {
		return nil, NewValidationError("scopes", "at least one scope is required")
	}
	for _, scope := range key.Scopes {
		if scope != "*" && !models.IngestDomain(scope).Valid() {
			return nil, NewValidationError("scopes", fmt.Sprintf("unknown ingest domain '%s'", scope))
		}
	}

	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	key.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, tenant_id, project_id, name, prefix, key_hash, scopes, is_active, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		key.ID, key.TenantID, key.ProjectID, key.Name, key.Prefix, key.KeyHash,
		key.Scopes, key.IsActive, key.ExpiresAt, key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("api key hash: %w", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	return key, nil
}

// GetByHash loads a key by its SHA-256 digest. Callers decide whether
// an inactive or expired key still authenticates (it must not).
func (s *APIKeyStore) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE key_hash = $1`, hash)
	if err != nil {
		return nil, noRows(err, "api key")
	}
	return &key, nil
}

// Get loads a key by ID scoped by tenant.
func (s *APIKeyStore) Get(ctx context.Context, tenantID, id string) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT * FROM api_keys WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, noRows(err, "api key")
	}
	return &key, nil
}

// ListByProject returns every key of a project, newest first.
func (s *APIKeyStore) ListByProject(ctx context.Context, tenantID, projectID string) ([]*models.APIKey, error) {
	keys := []*models.APIKey{}
	err := s.db.SelectContext(ctx, &keys,
		`SELECT * FROM api_keys WHERE tenant_id = $1 AND project_id = $2 ORDER BY created_at DESC`,
		tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Deactivate disables a key and returns the updated record so the
// caller can invalidate the cache entry for its hash.
func (s *APIKeyStore) Deactivate(ctx context.Context, tenantID, id string) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.GetContext(ctx, &key,
		`UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND tenant_id = $2 RETURNING *`,
		id, tenantID)
	if err != nil {
		return nil, noRows(err, "api key")
	}
	return &key, nil
}

// TouchLastUsed stamps last_used_at. Best-effort: callers log and
// swallow failures.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	return nil
}
