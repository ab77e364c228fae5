package ai

import (
	"context"

	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/models"
)

// Candidate is one model-proposed root cause before persistence. Field
// names mirror the JSON contract the model is instructed to follow.
type Candidate struct {
	Claim              string   `json:"claim"`
	Description        string   `json:"description"`
	ConfidenceScore    float64  `json:"confidence_score"`
	SupportingEvidence []string `json:"supporting_evidence"`
}

// Usage is the token accounting for one provider call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider produces root-cause candidates for incidents. Candidates
// come back in descending confidence order.
type Provider interface {
	// Model identifies the backing model for audit rows.
	Model() string

	// GenerateHypotheses proposes candidates for one incident.
	GenerateHypotheses(ctx context.Context, incident *models.Incident, maxTokens int) ([]Candidate, Usage, error)

	// GenerateBatch proposes candidates for several incidents in one
	// call, keyed by incident ID. A missing key means the model skipped
	// that incident.
	GenerateBatch(ctx context.Context, incidents []*models.Incident, maxTokens int) (map[string][]Candidate, Usage, error)
}

// NewProvider builds the provider cfg names: Claude when configured
// for anthropic, otherwise the deterministic mock.
func NewProvider(cfg config.AIConfig) Provider {
	if cfg.Provider == "anthropic" {
		return NewAnthropicProvider(cfg.APIKey, cfg.Model)
	}
	return MockProvider{}
}
