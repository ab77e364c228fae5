// Package incidents drives the incident lifecycle: creation with the
// seeded analysis workflow, guarded state transitions, severity
// changes, and the timeline that records all of them.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stratushq/stratus/pkg/events"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

// ErrInvalidTransition is returned when a requested state change is not
// allowed by the lifecycle table.
var ErrInvalidTransition = errors.New("invalid state transition")

// enrichTimeout bounds the background hypothesis generation kicked off
// at creation. It matches the AI engine's single-flight lock TTL.
const enrichTimeout = 60 * time.Second

// Enricher asynchronously generates hypotheses for newly opened
// incidents. Implemented by the AI engine; nil disables enrichment.
type Enricher interface {
	EnrichIncident(ctx context.Context, tenantID, incidentID string) error
}

// Service orchestrates the incident lifecycle over the store and the
// event bus.
type Service struct {
	stores    *store.Store
	publisher *events.EventPublisher
	enricher  Enricher
}

// NewService creates an incident Service. enricher may be nil.
func NewService(stores *store.Store, publisher *events.EventPublisher, enricher Enricher) *Service {
	return &Service{stores: stores, publisher: publisher, enricher: enricher}
}

// CreateInput contains the domain-level data needed to open an
// incident. Transformed from the HTTP request + auth context by the
// handler.
type CreateInput struct {
	ProjectID   string
	Title       string
	Description string
	Service     string
	Severity    models.Severity
	Actor       string
	Source      string // manual, alert, ai
}

// Create opens an incident in investigating state, seeds its analysis
// workflow, announces it on the bus, and kicks off background
// hypothesis generation. Enrichment failures never fail creation.
func (s *Service) Create(ctx context.Context, tenantID string, input CreateInput) (*models.Incident, error) {
	if input.ProjectID == "" {
		return nil, store.NewValidationError("project_id", "required")
	}
	if input.Title == "" {
		return nil, store.NewValidationError("title", "required")
	}
	severity := input.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	if !severity.Valid() {
		return nil, store.NewValidationError("severity", fmt.Sprintf("unknown severity '%s'", severity))
	}

	now := time.Now().UTC()
	incident := &models.Incident{
		TenantID:    tenantID,
		ProjectID:   input.ProjectID,
		Title:       input.Title,
		Description: input.Description,
		Service:     input.Service,
		Severity:    severity,
		State:       models.IncidentInvestigating,
		DetectedAt:  now,
	}
	steps := seedWorkflow(incident, now)

	if err := s.stores.Incidents.Create(ctx, incident, steps); err != nil {
		return nil, err
	}

	slog.Info("Incident created",
		"incident_id", incident.ID,
		"tenant_id", tenantID,
		"severity", incident.Severity,
		"service", incident.Service)

	source := input.Source
	if source == "" {
		source = "manual"
	}
	s.publishSnapshot(ctx, incident, source, s.publisher.PublishIncidentCreated)

	if s.enricher != nil {
		go s.enrich(incident.TenantID, incident.ID)
	}

	return incident, nil
}

// enrich runs hypothesis generation detached from the request that
// created the incident.
func (s *Service) enrich(tenantID, incidentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	if err := s.enricher.EnrichIncident(ctx, tenantID, incidentID); err != nil {
		slog.Error("Background enrichment failed",
			"incident_id", incidentID,
			"error", err)
	}
}

// TransitionState moves an incident to a new lifecycle state. The move
// must be legal from the incident's current state; acknowledged and
// resolved stamp their timestamps. The timeline records the change and
// the bus announces it.
func (s *Service) TransitionState(ctx context.Context, tenantID, id string, to models.IncidentState, actor string, comment *string) (*models.Incident, error) {
	if !to.Valid() {
		return nil, store.NewValidationError("state", fmt.Sprintf("unknown state '%s'", to))
	}

	incident, err := s.stores.Incidents.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	from := incident.State
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("cannot move incident from %s to %s: %w", from, to, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	var ackAt, resolvedAt *time.Time
	switch to {
	case models.IncidentAcknowledged:
		ackAt = &now
	case models.IncidentResolved:
		resolvedAt = &now
	}

	updated, err := s.stores.Incidents.UpdateState(ctx, tenantID, id, from, to, ackAt, resolvedAt)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, updated, models.ActivityStateChange,
		strPtr(string(from)), strPtr(string(to)), actor, comment)
	s.publishSnapshot(ctx, updated, "", s.publisher.PublishIncidentUpdated)

	slog.Info("Incident state changed",
		"incident_id", id,
		"from", from,
		"to", to,
		"actor", actor)
	return updated, nil
}

// UpdateSeverity reclassifies an incident. Severity changes are not
// constrained by the lifecycle table; a change to the current severity
// is a no-op.
func (s *Service) UpdateSeverity(ctx context.Context, tenantID, id string, severity models.Severity, actor string, comment *string) (*models.Incident, error) {
	if !severity.Valid() {
		return nil, store.NewValidationError("severity", fmt.Sprintf("unknown severity '%s'", severity))
	}

	incident, err := s.stores.Incidents.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if incident.Severity == severity {
		return incident, nil
	}
	old := incident.Severity

	updated, err := s.stores.Incidents.UpdateSeverity(ctx, tenantID, id, severity)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, updated, models.ActivitySeverityChange,
		strPtr(string(old)), strPtr(string(severity)), actor, comment)
	s.publishSnapshot(ctx, updated, "", s.publisher.PublishIncidentUpdated)

	slog.Info("Incident severity changed",
		"incident_id", id,
		"from", old,
		"to", severity,
		"actor", actor)
	return updated, nil
}

// AddComment appends a free-form note to the incident timeline.
func (s *Service) AddComment(ctx context.Context, tenantID, incidentID, actor, comment string) (*models.Activity, error) {
	if comment == "" {
		return nil, store.NewValidationError("comment", "required")
	}

	incident, err := s.stores.Incidents.Get(ctx, tenantID, incidentID)
	if err != nil {
		return nil, err
	}

	activity, err := s.stores.Incidents.AddActivity(ctx, &models.Activity{
		TenantID:   tenantID,
		IncidentID: incidentID,
		Kind:       models.ActivityComment,
		Actor:      normalizeActor(actor),
		Comment:    &comment,
	})
	if err != nil {
		return nil, err
	}

	s.publishSnapshot(ctx, incident, "", s.publisher.PublishIncidentUpdated)
	return activity, nil
}

// recordActivity appends a timeline entry for a change that already
// committed. The change stands even if the timeline write fails, so
// failures are logged rather than returned.
func (s *Service) recordActivity(ctx context.Context, incident *models.Incident, kind models.ActivityKind, oldValue, newValue *string, actor string, comment *string) {
	_, err := s.stores.Incidents.AddActivity(ctx, &models.Activity{
		TenantID:   incident.TenantID,
		IncidentID: incident.ID,
		Kind:       kind,
		OldValue:   oldValue,
		NewValue:   newValue,
		Actor:      normalizeActor(actor),
		Comment:    comment,
	})
	if err != nil {
		slog.Error("Failed to record incident activity",
			"incident_id", incident.ID,
			"kind", kind,
			"error", err)
	}
}

// publishSnapshot announces the incident's current shape on the bus.
// Publish failures are logged, never propagated.
func (s *Service) publishSnapshot(ctx context.Context, incident *models.Incident, source string, publish func(context.Context, string, events.IncidentPayload) error) {
	err := publish(ctx, incident.TenantID, events.IncidentPayload{
		IncidentID:  incident.ID,
		ProjectID:   incident.ProjectID,
		Title:       incident.Title,
		Description: incident.Description,
		State:       incident.State,
		Severity:    incident.Severity,
		Source:      source,
	})
	if err != nil {
		slog.Error("Failed to publish incident event",
			"incident_id", incident.ID,
			"error", err)
	}
}

// seedWorkflow builds the analysis pipeline in its initial shape:
// triage done, log collection running, hypothesis generation waiting on
// the AI engine.
func seedWorkflow(incident *models.Incident, now time.Time) []*models.AnalysisStep {
	source := incident.Service
	if source == "" {
		source = "unknown"
	}
	outputs := map[models.StepType]string{
		models.StepAlertReceived:    fmt.Sprintf("Incident opened: %s", incident.Title),
		models.StepSourceIdentified: fmt.Sprintf("Affected service: %s", source),
		models.StepPlatformDetails:  fmt.Sprintf("Platform context collected for severity %s", incident.Severity),
	}

	steps := make([]*models.AnalysisStep, 0, len(models.WorkflowStepTypes))
	for i, stepType := range models.WorkflowStepTypes {
		step := &models.AnalysisStep{
			StepType:   stepType,
			StepNumber: i + 1,
			Status:     models.StepPending,
		}
		switch {
		case stepType == models.StepLogsFetched:
			step.Status = models.StepInProgress
			step.StartedAt = &now
		case stepType == models.StepHypothesisGenerated:
			// stays pending until the AI engine completes it
		default:
			step.Status = models.StepCompleted
			step.StartedAt = &now
			step.CompletedAt = &now
			if out, ok := outputs[stepType]; ok {
				step.Output = &out
			}
		}
		steps = append(steps, step)
	}
	return steps
}

// normalizeActor defaults blank actors to the system identity so
// timeline rows are never anonymous.
func normalizeActor(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

func strPtr(s string) *string { return &s }
