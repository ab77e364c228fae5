package ai

import (
	"context"

	"github.com/stratushq/stratus/pkg/models"
)

// mockCandidates is the fixed set served without model credentials,
// ordered by descending confidence.
var mockCandidates = []Candidate{
	{
		Claim:           "Recent deployment introduced a regression",
		Description:     "The symptom onset lines up with the most recent rollout to the affected service. A code or configuration change in that release is the most common cause of sudden behavior shifts.",
		ConfidenceScore: 0.62,
		SupportingEvidence: []string{
			"Symptom onset correlates with the deployment window",
			"No matching infrastructure change in the same period",
		},
	},
	{
		Claim:           "Downstream dependency is degraded",
		Description:     "A database, cache, or third-party API the service depends on may be slow or failing, surfacing as elevated errors or latency upstream.",
		ConfidenceScore: 0.48,
		SupportingEvidence: []string{
			"Dependency latency often amplifies at the calling service",
		},
	},
	{
		Claim:           "Resource exhaustion on the service hosts",
		Description:     "CPU saturation, memory pressure, or connection pool exhaustion degrades throughput gradually until requests start failing.",
		ConfidenceScore: 0.35,
		SupportingEvidence: []string{
			"Check host CPU and memory trends over the incident window",
		},
	},
}

// MockProvider returns a deterministic hypothesis set without calling
// any external model. Mock responses carry zero token usage, so they
// never accrue cost.
type MockProvider struct{}

// Model implements Provider.
func (MockProvider) Model() string { return "mock" }

// GenerateHypotheses implements Provider.
func (MockProvider) GenerateHypotheses(_ context.Context, _ *models.Incident, _ int) ([]Candidate, Usage, error) {
	out := make([]Candidate, len(mockCandidates))
	copy(out, mockCandidates)
	return out, Usage{}, nil
}

// GenerateBatch implements Provider.
func (MockProvider) GenerateBatch(_ context.Context, incidents []*models.Incident, _ int) (map[string][]Candidate, Usage, error) {
	out := make(map[string][]Candidate, len(incidents))
	for _, incident := range incidents {
		set := make([]Candidate, len(mockCandidates))
		copy(set, mockCandidates)
		out[incident.ID] = set
	}
	return out, Usage{}, nil
}
