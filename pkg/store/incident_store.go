package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// IncidentStore persists incidents and everything they own: activities,
// hypotheses, analysis steps, and AI request audit rows. Ownership is
// enforced with FK cascades; deleting an incident deletes its children.
type IncidentStore struct {
	db *sqlx.DB
}

// NewIncidentStore creates a new IncidentStore.
func NewIncidentStore(db *sqlx.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

// Create persists an incident together with its seeded workflow steps
// in one transaction.
func (s *IncidentStore) Create(ctx context.Context, incident *models.Incident, steps []*models.AnalysisStep) error {
	if incident.Title == "" {
		return NewValidationError("title", "incident title is required")
	}
	if !incident.Severity.Valid() {
		return NewValidationError("severity", fmt.Sprintf("unknown severity '%s'", incident.Severity))
	}

	if incident.ID == "" {
		incident.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	incident.CreatedAt = now
	incident.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO incidents (id, tenant_id, project_id, title, description, service, severity, state,
		   detected_at, acknowledged_at, resolved_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		incident.ID, incident.TenantID, incident.ProjectID, incident.Title, incident.Description,
		incident.Service, incident.Severity, incident.State, incident.DetectedAt,
		incident.AcknowledgedAt, incident.ResolvedAt, incident.CreatedAt, incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	for _, step := range steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.TenantID = incident.TenantID
		step.IncidentID = incident.ID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO analysis_steps (id, tenant_id, incident_id, step_type, step_number, status,
			   started_at, completed_at, input, output, input_tokens, output_tokens, cost)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			step.ID, step.TenantID, step.IncidentID, step.StepType, step.StepNumber, step.Status,
			step.StartedAt, step.CompletedAt, step.Input, step.Output,
			step.InputTokens, step.OutputTokens, step.Cost)
		if err != nil {
			return fmt.Errorf("failed to seed analysis step %s: %w", step.StepType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit incident creation: %w", err)
	}
	return nil
}

// Get loads one incident scoped by tenant.
func (s *IncidentStore) Get(ctx context.Context, tenantID, id string) (*models.Incident, error) {
	var incident models.Incident
	err := s.db.GetContext(ctx, &incident,
		`SELECT * FROM incidents WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, noRows(err, "incident")
	}
	return &incident, nil
}

// List returns a filtered incident page plus the unpaged total.
func (s *IncidentStore) List(ctx context.Context, tenantID, projectID string, filters models.IncidentFilters) ([]*models.Incident, int, error) {
	where := []string{"tenant_id = $1", "project_id = $2"}
	args := []any{tenantID, projectID}

	if filters.State != "" {
		args = append(args, filters.State)
		where = append(where, "state = $"+strconv.Itoa(len(args)))
	}
	if filters.Severity != "" {
		args = append(args, filters.Severity)
		where = append(where, "severity = $"+strconv.Itoa(len(args)))
	}
	if filters.Service != "" {
		args = append(args, filters.Service)
		where = append(where, "service = $"+strconv.Itoa(len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM incidents WHERE "+whereClause, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	incidents := []*models.Incident{}
	err = s.db.SelectContext(ctx, &incidents,
		fmt.Sprintf("SELECT * FROM incidents WHERE %s ORDER BY detected_at DESC LIMIT $%d OFFSET $%d",
			whereClause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list incidents: %w", err)
	}

	return incidents, total, nil
}

// UpdateState moves an incident from one state to another with a
// compare-and-set on the previous state, serializing concurrent
// transitions per incident. AckAt and resolvedAt stamp their timestamp
// columns when non-nil.
func (s *IncidentStore) UpdateState(ctx context.Context, tenantID, id string, from, to models.IncidentState, ackAt, resolvedAt *time.Time) (*models.Incident, error) {
	var incident models.Incident
	err := s.db.GetContext(ctx, &incident,
		`UPDATE incidents
		 SET state = $1,
		     acknowledged_at = COALESCE($2, acknowledged_at),
		     resolved_at = COALESCE($3, resolved_at),
		     updated_at = now()
		 WHERE id = $4 AND tenant_id = $5 AND state = $6
		 RETURNING *`,
		to, ackAt, resolvedAt, id, tenantID, from)
	if err == nil {
		return &incident, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update incident state: %w", err)
	}

	// Distinguish a missing incident from a lost race on state.
	if _, getErr := s.Get(ctx, tenantID, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("incident state changed concurrently: %w", ErrConcurrentModification)
}

// UpdateSeverity sets the severity unconditionally (severity changes
// are not guarded by the lifecycle table).
func (s *IncidentStore) UpdateSeverity(ctx context.Context, tenantID, id string, severity models.Severity) (*models.Incident, error) {
	var incident models.Incident
	err := s.db.GetContext(ctx, &incident,
		`UPDATE incidents SET severity = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3
		 RETURNING *`,
		severity, id, tenantID)
	if err != nil {
		return nil, noRows(err, "incident")
	}
	return &incident, nil
}

// AddActivity appends one timeline entry.
func (s *IncidentStore) AddActivity(ctx context.Context, activity *models.Activity) (*models.Activity, error) {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	activity.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, tenant_id, incident_id, kind, old_value, new_value, actor, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		activity.ID, activity.TenantID, activity.IncidentID, activity.Kind,
		activity.OldValue, activity.NewValue, activity.Actor, activity.Comment, activity.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add activity: %w", err)
	}
	return activity, nil
}

// ListActivities returns the incident timeline oldest first.
func (s *IncidentStore) ListActivities(ctx context.Context, tenantID, incidentID string) ([]*models.Activity, error) {
	activities := []*models.Activity{}
	err := s.db.SelectContext(ctx, &activities,
		`SELECT * FROM activities WHERE tenant_id = $1 AND incident_id = $2 ORDER BY created_at`,
		tenantID, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// InsertHypotheses persists a ranked hypothesis set in one transaction.
func (s *IncidentStore) InsertHypotheses(ctx context.Context, hypotheses []*models.Hypothesis) error {
	if len(hypotheses) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, h := range hypotheses {
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		h.CreatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO hypotheses (id, tenant_id, incident_id, claim, description, confidence_score, rank, evidence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			h.ID, h.TenantID, h.IncidentID, h.Claim, h.Description,
			h.ConfidenceScore, h.Rank, h.Evidence, h.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("hypothesis rank %d: %w", h.Rank, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to insert hypothesis: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit hypotheses: %w", err)
	}
	return nil
}

// ListHypotheses returns an incident's hypotheses ordered by rank.
func (s *IncidentStore) ListHypotheses(ctx context.Context, tenantID, incidentID string) ([]*models.Hypothesis, error) {
	hypotheses := []*models.Hypothesis{}
	err := s.db.SelectContext(ctx, &hypotheses,
		`SELECT * FROM hypotheses WHERE tenant_id = $1 AND incident_id = $2 ORDER BY rank`,
		tenantID, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hypotheses: %w", err)
	}
	return hypotheses, nil
}

// ListSteps returns the analysis workflow ordered by step number.
func (s *IncidentStore) ListSteps(ctx context.Context, tenantID, incidentID string) ([]*models.AnalysisStep, error) {
	steps := []*models.AnalysisStep{}
	err := s.db.SelectContext(ctx, &steps,
		`SELECT * FROM analysis_steps WHERE tenant_id = $1 AND incident_id = $2 ORDER BY step_number`,
		tenantID, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis steps: %w", err)
	}
	return steps, nil
}

// CompleteStep marks one step completed with its token attribution.
func (s *IncidentStore) CompleteStep(ctx context.Context, tenantID, incidentID string, stepType models.StepType, output string, inputTokens, outputTokens int, cost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_steps
		 SET status = $1, completed_at = now(), output = $2,
		     input_tokens = $3, output_tokens = $4, cost = $5
		 WHERE tenant_id = $6 AND incident_id = $7 AND step_type = $8`,
		models.StepCompleted, output, inputTokens, outputTokens, cost,
		tenantID, incidentID, stepType)
	if err != nil {
		return fmt.Errorf("failed to complete step %s: %w", stepType, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("analysis step %s: %w", stepType, ErrNotFound)
	}
	return nil
}

// FailStep marks one step failed, keeping whatever output exists.
func (s *IncidentStore) FailStep(ctx context.Context, tenantID, incidentID string, stepType models.StepType, output string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_steps
		 SET status = $1, completed_at = now(), output = $2
		 WHERE tenant_id = $3 AND incident_id = $4 AND step_type = $5`,
		models.StepFailed, output, tenantID, incidentID, stepType)
	if err != nil {
		return fmt.Errorf("failed to fail step %s: %w", stepType, err)
	}
	return nil
}

// InsertAIRequest appends one LLM call audit row.
func (s *IncidentStore) InsertAIRequest(ctx context.Context, req *models.AIRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_requests (id, tenant_id, incident_id, kind, model, input_tokens, output_tokens, cost, duration_ms, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.TenantID, req.IncidentID, req.Kind, req.Model,
		req.InputTokens, req.OutputTokens, req.Cost, req.DurationMS, req.Summary, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ai request: %w", err)
	}
	return nil
}

// ListAIRequests returns an incident's LLM audit trail, newest first.
func (s *IncidentStore) ListAIRequests(ctx context.Context, tenantID, incidentID string) ([]*models.AIRequest, error) {
	reqs := []*models.AIRequest{}
	err := s.db.SelectContext(ctx, &reqs,
		`SELECT * FROM ai_requests WHERE tenant_id = $1 AND incident_id = $2 ORDER BY created_at DESC`,
		tenantID, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ai requests: %w", err)
	}
	return reqs, nil
}
