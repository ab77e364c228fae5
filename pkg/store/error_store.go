package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// ErrorStore persists fingerprinted error groups and their occurrences.
type ErrorStore struct {
	db *sqlx.DB
}

// NewErrorStore creates a new ErrorStore.
func NewErrorStore(db *sqlx.DB) *ErrorStore {
	return &ErrorStore{db: db}
}

// UpsertGroup folds one occurrence into its group: inserts the group on
// first sight of the fingerprint, otherwise bumps count and last_seen.
// Returns the group row either way.
func (s *ErrorStore) UpsertGroup(ctx context.Context, group *models.ErrorGroup) (*models.ErrorGroup, error) {
	if group.Fingerprint == "" {
		return nil, NewValidationError("fingerprint", "fingerprint is required")
	}
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if group.FirstSeen.IsZero() {
		group.FirstSeen = now
	}
	if group.LastSeen.IsZero() {
		group.LastSeen = now
	}

	var out models.ErrorGroup
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO error_groups (id, tenant_id, project_id, service_name, error_class, message, fingerprint, count, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
		 ON CONFLICT (project_id, fingerprint) DO UPDATE
		   SET count = error_groups.count + 1,
		       last_seen = EXCLUDED.last_seen
		 RETURNING *`,
		group.ID, group.TenantID, group.ProjectID, group.ServiceName, group.ErrorClass,
		group.Message, group.Fingerprint, group.FirstSeen, group.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert error group: %w", err)
	}
	return &out, nil
}

// InsertOccurrence appends one concrete error event to its group.
func (s *ErrorStore) InsertOccurrence(ctx context.Context, occ *models.ErrorOccurrence) error {
	if occ.GroupID == "" {
		return NewValidationError("group_id", "group id is required")
	}
	if occ.ID == "" {
		occ.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_occurrences (id, tenant_id, group_id, message, stacktrace, context, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		occ.ID, occ.TenantID, occ.GroupID, occ.Message, occ.Stacktrace, occ.Context, occ.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert error occurrence: %w", err)
	}
	return nil
}

// GetGroupByFingerprint loads one group by its project-scoped identity.
func (s *ErrorStore) GetGroupByFingerprint(ctx context.Context, tenantID, projectID, fingerprint string) (*models.ErrorGroup, error) {
	var group models.ErrorGroup
	err := s.db.GetContext(ctx, &group,
		`SELECT * FROM error_groups WHERE tenant_id = $1 AND project_id = $2 AND fingerprint = $3`,
		tenantID, projectID, fingerprint)
	if err != nil {
		return nil, noRows(err, "error group")
	}
	return &group, nil
}

// ListGroups returns groups for a project ordered by recency.
func (s *ErrorStore) ListGroups(ctx context.Context, tenantID, projectID string, limit int) ([]*models.ErrorGroup, error) {
	if limit <= 0 {
		limit = 50
	}
	groups := []*models.ErrorGroup{}
	err := s.db.SelectContext(ctx, &groups,
		`SELECT * FROM error_groups WHERE tenant_id = $1 AND project_id = $2
		 ORDER BY last_seen DESC LIMIT $3`,
		tenantID, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list error groups: %w", err)
	}
	return groups, nil
}

// ListOccurrences returns the newest occurrences of one group.
func (s *ErrorStore) ListOccurrences(ctx context.Context, tenantID, groupID string, limit int) ([]*models.ErrorOccurrence, error) {
	if limit <= 0 {
		limit = 50
	}
	occs := []*models.ErrorOccurrence{}
	err := s.db.SelectContext(ctx, &occs,
		`SELECT * FROM error_occurrences WHERE tenant_id = $1 AND group_id = $2
		 ORDER BY timestamp DESC LIMIT $3`,
		tenantID, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list error occurrences: %w", err)
	}
	return occs, nil
}
