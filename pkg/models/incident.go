package models

import "time"

// IncidentState is the lifecycle state of an incident.
type IncidentState string

const (
	IncidentDetected      IncidentState = "detected"
	IncidentInvestigating IncidentState = "investigating"
	IncidentAcknowledged  IncidentState = "acknowledged"
	IncidentMitigated     IncidentState = "mitigated"
	IncidentResolved      IncidentState = "resolved"
	IncidentClosed        IncidentState = "closed"
)

// incidentTransitions maps each state to the states reachable from it.
// closed is terminal.
var incidentTransitions = map[IncidentState][]IncidentState{
	IncidentDetected:      {IncidentInvestigating, IncidentAcknowledged},
	IncidentInvestigating: {IncidentAcknowledged, IncidentMitigated, IncidentResolved},
	IncidentAcknowledged:  {IncidentMitigated, IncidentResolved},
	IncidentMitigated:     {IncidentResolved},
	IncidentResolved:      {IncidentClosed},
	IncidentClosed:        {},
}

// Valid reports whether s names a known incident state.
func (s IncidentState) Valid() bool {
	_, ok := incidentTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to target is a legal
// lifecycle transition.
func (s IncidentState) CanTransitionTo(target IncidentState) bool {
	for _, next := range incidentTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Severity orders incidents and alerts by impact.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s names a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Incident is a tracked production issue driven through the lifecycle
// state machine. It exclusively owns its hypotheses, analysis steps,
// AI requests, and activities.
type Incident struct {
	ID             string        `db:"id" json:"id"`
	TenantID       string        `db:"tenant_id" json:"tenant_id"`
	ProjectID      string        `db:"project_id" json:"project_id"`
	Title          string        `db:"title" json:"title"`
	Description    string        `db:"description" json:"description"`
	Service        string        `db:"service" json:"service"`
	Severity       Severity      `db:"severity" json:"severity"`
	State          IncidentState `db:"state" json:"state"`
	DetectedAt     time.Time     `db:"detected_at" json:"detected_at"`
	AcknowledgedAt *time.Time    `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// ActivityKind classifies a timeline entry on an incident.
type ActivityKind string

const (
	ActivityStateChange    ActivityKind = "state_change"
	ActivitySeverityChange ActivityKind = "severity_change"
	ActivityComment        ActivityKind = "comment"
)

// Activity is one immutable timeline entry. State and severity changes
// record old and new values; comments carry only the comment text.
type Activity struct {
	ID         string       `db:"id" json:"id"`
	TenantID   string       `db:"tenant_id" json:"tenant_id"`
	IncidentID string       `db:"incident_id" json:"incident_id"`
	Kind       ActivityKind `db:"kind" json:"kind"`
	OldValue   *string      `db:"old_value" json:"old_value,omitempty"`
	NewValue   *string      `db:"new_value" json:"new_value,omitempty"`
	Actor      string       `db:"actor" json:"actor"`
	Comment    *string      `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// Hypothesis is one AI-proposed root-cause candidate. Ranks within an
// incident are contiguous starting at 1.
type Hypothesis struct {
	ID              string     `db:"id" json:"id"`
	TenantID        string     `db:"tenant_id" json:"tenant_id"`
	IncidentID      string     `db:"incident_id" json:"incident_id"`
	Claim           string     `db:"claim" json:"claim"`
	Description     string     `db:"description" json:"description"`
	ConfidenceScore float64    `db:"confidence_score" json:"confidence_score"`
	Rank            int        `db:"rank" json:"rank"`
	Evidence        StringList `db:"evidence" json:"evidence"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// StepType names one stage of the per-incident analysis pipeline.
type StepType string

const (
	StepAlertReceived       StepType = "alert_received"
	StepSourceIdentified    StepType = "source_identified"
	StepPlatformDetails     StepType = "platform_details"
	StepLogsFetched         StepType = "logs_fetched"
	StepHypothesisGenerated StepType = "hypothesis_generated"
)

// WorkflowStepTypes lists the analysis pipeline steps in execution order.
var WorkflowStepTypes = []StepType{
	StepAlertReceived,
	StepSourceIdentified,
	StepPlatformDetails,
	StepLogsFetched,
	StepHypothesisGenerated,
}

// StepStatus is the execution status of one analysis step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// Valid reports whether s names a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// AnalysisStep is one stage of the analysis workflow seeded at incident
// creation. Token and cost attribution is filled when AI completes the
// step.
type AnalysisStep struct {
	ID           string     `db:"id" json:"id"`
	TenantID     string     `db:"tenant_id" json:"tenant_id"`
	IncidentID   string     `db:"incident_id" json:"incident_id"`
	StepType     StepType   `db:"step_type" json:"step_type"`
	StepNumber   int        `db:"step_number" json:"step_number"`
	Status       StepStatus `db:"status" json:"status"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Input        *string    `db:"input" json:"input,omitempty"`
	Output       *string    `db:"output" json:"output,omitempty"`
	InputTokens  int        `db:"input_tokens" json:"input_tokens"`
	OutputTokens int        `db:"output_tokens" json:"output_tokens"`
	Cost         float64    `db:"cost" json:"cost"`
}

// AIRequestKind classifies an LLM call for audit purposes.
type AIRequestKind string

const (
	AIRequestHypotheses      AIRequestKind = "hypothesis_generation"
	AIRequestBatchHypotheses AIRequestKind = "hypothesis_generation_batch"
)

// AIRequest is the audit record of one LLM call. Cost is derived from
// configured per-million token rates at write time.
type AIRequest struct {
	ID           string        `db:"id" json:"id"`
	TenantID     string        `db:"tenant_id" json:"tenant_id"`
	IncidentID   string        `db:"incident_id" json:"incident_id"`
	Kind         AIRequestKind `db:"kind" json:"kind"`
	Model        string        `db:"model" json:"model"`
	InputTokens  int           `db:"input_tokens" json:"input_tokens"`
	OutputTokens int           `db:"output_tokens" json:"output_tokens"`
	Cost         float64       `db:"cost" json:"cost"`
	DurationMS   int64         `db:"duration_ms" json:"duration_ms"`
	Summary      *string       `db:"summary" json:"summary,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// IncidentFilters narrows incident listing. Zero values mean no filter;
// Limit zero falls back to the store default.
type IncidentFilters struct {
	State    IncidentState
	Severity Severity
	Service  string
	Limit    int
	Offset   int
}
