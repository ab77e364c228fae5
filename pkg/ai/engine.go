// Package ai generates ranked root-cause hypotheses for incidents.
// Generation is guarded by a per-incident single-flight lock, served
// from the store when hypotheses already exist, and audited for token
// spend on every model call.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stratushq/stratus/pkg/cache"
	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/events"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

const (
	// singleMaxTokens bounds one-incident completions.
	singleMaxTokens = 800
	// batchMaxTokensPer scales the completion bound by batch size.
	batchMaxTokensPer = 1500
	// maxBatchSize caps how many incidents one batch call may carry.
	maxBatchSize = 10

	// Stored field limits. Model output beyond these is truncated, not
	// rejected.
	maxClaimLen       = 200
	maxDescriptionLen = 2000
	maxEvidenceItems  = 5
	maxEvidenceLen    = 500
)

// ErrGenerationInFlight is returned when another caller already holds
// the generation lock for the incident. Callers should wait out the
// lock TTL instead of retrying immediately.
var ErrGenerationInFlight = errors.New("hypothesis generation already in progress")

// Result carries one incident's hypothesis set. Cached marks sets
// replayed from the store without a model call.
type Result struct {
	Hypotheses []*models.Hypothesis `json:"hypotheses"`
	Cached     bool                 `json:"cached"`
}

// BatchResult pairs one requested incident with its outcome. Error is
// set when that incident could not be processed; the rest of the batch
// is unaffected.
type BatchResult struct {
	IncidentID string               `json:"incident_id"`
	Hypotheses []*models.Hypothesis `json:"hypotheses,omitempty"`
	Cached     bool                 `json:"cached"`
	Error      string               `json:"error,omitempty"`
}

// Engine runs hypothesis generation end to end over a Provider.
type Engine struct {
	stores    *store.Store
	kv        *cache.Client
	publisher *events.EventPublisher
	provider  Provider

	maxHypotheses    int
	inputTokenPrice  float64
	outputTokenPrice float64
}

// NewEngine creates an Engine. Prices are per million tokens.
func NewEngine(stores *store.Store, kv *cache.Client, publisher *events.EventPublisher, provider Provider, cfg config.AIConfig) *Engine {
	maxHypotheses := cfg.MaxHypotheses
	if maxHypotheses <= 0 {
		maxHypotheses = 3
	}
	return &Engine{
		stores:           stores,
		kv:               kv,
		publisher:        publisher,
		provider:         provider,
		maxHypotheses:    maxHypotheses,
		inputTokenPrice:  cfg.InputTokenPrice,
		outputTokenPrice: cfg.OutputTokenPrice,
	}
}

// GenerateHypotheses produces the incident's hypothesis set. Stored
// hypotheses short-circuit the model entirely; otherwise the incident
// is locked, the provider is called once, and the results are
// persisted, published, and attributed to the workflow step.
func (e *Engine) GenerateHypotheses(ctx context.Context, tenantID, incidentID string) (*Result, error) {
	incident, err := e.stores.Incidents.Get(ctx, tenantID, incidentID)
	if err != nil {
		return nil, err
	}

	if cached, err := e.cachedResult(ctx, incident); cached != nil || err != nil {
		return cached, err
	}

	key := cache.GeneratingLockKey(incident.ID)
	token, acquired := e.kv.AcquireLock(ctx, key, cache.GeneratingLockTTL)
	if !acquired {
		return nil, fmt.Errorf("incident %s: %w", incident.ID, ErrGenerationInFlight)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.kv.ReleaseLock(releaseCtx, key, token)
	}()

	// A racing caller may have finished between the cache check and the
	// lock grant.
	if cached, err := e.cachedResult(ctx, incident); cached != nil || err != nil {
		return cached, err
	}

	return e.generateLocked(ctx, incident)
}

// EnrichIncident implements the incident orchestrator's background
// hook. A generation already in flight counts as success: someone is
// producing the hypotheses either way.
func (e *Engine) EnrichIncident(ctx context.Context, tenantID, incidentID string) error {
	_, err := e.GenerateHypotheses(ctx, tenantID, incidentID)
	if errors.Is(err, ErrGenerationInFlight) {
		return nil
	}
	return err
}

// GenerateBatch generates hypotheses for up to ten incidents. Incidents
// with stored hypotheses are served from the result cache; the rest
// share one enumerated model call. When that call fails the engine
// falls back to per-incident generation so a malformed batch response
// never strands the whole request.
func (e *Engine) GenerateBatch(ctx context.Context, tenantID string, incidentIDs []string) ([]BatchResult, error) {
	if len(incidentIDs) == 0 {
		return nil, store.NewValidationError("incident_ids", "required")
	}
	if len(incidentIDs) > maxBatchSize {
		return nil, store.NewValidationError("incident_ids", fmt.Sprintf("at most %d incidents per batch", maxBatchSize))
	}
	seen := make(map[string]bool, len(incidentIDs))
	for _, id := range incidentIDs {
		if seen[id] {
			return nil, store.NewValidationError("incident_ids", fmt.Sprintf("duplicate incident id %s", id))
		}
		seen[id] = true
	}

	results := make([]BatchResult, len(incidentIDs))
	var pending []*models.Incident
	pendingIdx := make(map[string]int)

	type heldLock struct{ key, token string }
	var locks []heldLock
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, l := range locks {
			e.kv.ReleaseLock(releaseCtx, l.key, l.token)
		}
	}()

	for i, id := range incidentIDs {
		results[i] = BatchResult{IncidentID: id}

		incident, err := e.stores.Incidents.Get(ctx, tenantID, id)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		cached, err := e.cachedResult(ctx, incident)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		if cached != nil {
			results[i].Hypotheses = cached.Hypotheses
			results[i].Cached = true
			continue
		}

		key := cache.GeneratingLockKey(id)
		token, acquired := e.kv.AcquireLock(ctx, key, cache.GeneratingLockTTL)
		if !acquired {
			results[i].Error = ErrGenerationInFlight.Error()
			continue
		}
		locks = append(locks, heldLock{key: key, token: token})
		pending = append(pending, incident)
		pendingIdx[id] = i
	}

	if len(pending) == 0 {
		return results, nil
	}

	start := time.Now()
	sets, usage, err := e.provider.GenerateBatch(ctx, pending, batchMaxTokensPer*len(pending))
	if err != nil {
		slog.Warn("Batch generation failed, falling back to per-incident calls",
			"count", len(pending),
			"error", err)
		for _, incident := range pending {
			e.fillResult(ctx, &results[pendingIdx[incident.ID]], incident)
		}
		return results, nil
	}
	elapsed := time.Since(start)

	// The call's tokens are shared; attribute them evenly across the
	// incidents it covered.
	perUsage := Usage{
		InputTokens:  usage.InputTokens / len(pending),
		OutputTokens: usage.OutputTokens / len(pending),
	}
	for _, incident := range pending {
		i := pendingIdx[incident.ID]
		candidates := sets[incident.ID]
		if len(candidates) == 0 {
			// The model skipped this incident; retry it alone.
			e.fillResult(ctx, &results[i], incident)
			continue
		}
		res, persistErr := e.persist(ctx, incident, candidates, perUsage, models.AIRequestBatchHypotheses, elapsed)
		if persistErr != nil {
			results[i].Error = persistErr.Error()
			continue
		}
		results[i].Hypotheses = res.Hypotheses
		results[i].Cached = res.Cached
	}
	return results, nil
}

// fillResult runs single-incident generation for one batch slot. The
// caller already holds the incident's lock.
func (e *Engine) fillResult(ctx context.Context, out *BatchResult, incident *models.Incident) {
	res, err := e.generateLocked(ctx, incident)
	if err != nil {
		out.Error = err.Error()
		return
	}
	out.Hypotheses = res.Hypotheses
	out.Cached = res.Cached
}

// cachedResult returns the stored hypothesis set when one exists,
// replaying its events marked cached so live viewers refresh too.
func (e *Engine) cachedResult(ctx context.Context, incident *models.Incident) (*Result, error) {
	existing, err := e.stores.Incidents.ListHypotheses(ctx, incident.TenantID, incident.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}
	e.publishHypotheses(ctx, incident, existing, true)
	return &Result{Hypotheses: existing, Cached: true}, nil
}

// generateLocked calls the provider and persists the outcome. The
// caller holds the incident's generation lock.
func (e *Engine) generateLocked(ctx context.Context, incident *models.Incident) (*Result, error) {
	start := time.Now()
	candidates, usage, err := e.provider.GenerateHypotheses(ctx, incident, singleMaxTokens)
	if err != nil {
		e.failStep(ctx, incident, err)
		return nil, fmt.Errorf("hypothesis generation failed: %w", err)
	}
	return e.persist(ctx, incident, candidates, usage, models.AIRequestHypotheses, time.Since(start))
}

// persist writes the hypothesis rows, the AI audit row, the bus events,
// and the workflow step attribution. Losing an insert race to another
// generator degrades to serving its rows.
func (e *Engine) persist(ctx context.Context, incident *models.Incident, candidates []Candidate, usage Usage, kind models.AIRequestKind, elapsed time.Duration) (*Result, error) {
	hypotheses := e.toHypotheses(incident, candidates)
	if len(hypotheses) == 0 {
		err := errors.New("model returned no usable hypotheses")
		e.failStep(ctx, incident, err)
		return nil, err
	}

	if err := e.stores.Incidents.InsertHypotheses(ctx, hypotheses); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return e.cachedResult(ctx, incident)
		}
		return nil, err
	}

	cost := e.cost(usage)
	summary := fmt.Sprintf("%d hypotheses generated", len(hypotheses))
	req := &models.AIRequest{
		TenantID:     incident.TenantID,
		IncidentID:   incident.ID,
		Kind:         kind,
		Model:        e.provider.Model(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		DurationMS:   elapsed.Milliseconds(),
		Summary:      &summary,
	}
	if err := e.stores.Incidents.InsertAIRequest(ctx, req); err != nil {
		slog.Error("Failed to record AI request",
			"incident_id", incident.ID,
			"error", err)
	}

	e.publishHypotheses(ctx, incident, hypotheses, false)

	if err := e.stores.Incidents.CompleteStep(ctx, incident.TenantID, incident.ID,
		models.StepHypothesisGenerated, summary, usage.InputTokens, usage.OutputTokens, cost); err != nil {
		slog.Error("Failed to complete analysis step",
			"incident_id", incident.ID,
			"error", err)
	}

	slog.Info("Hypotheses generated",
		"incident_id", incident.ID,
		"count", len(hypotheses),
		"model", e.provider.Model(),
		"cost", cost)
	return &Result{Hypotheses: hypotheses}, nil
}

// toHypotheses converts candidates into persistable rows: capped at the
// configured maximum, ranked contiguously in returned order, confidence
// clamped to [0,1], text truncated to stored field limits. Candidates
// without a claim are dropped.
func (e *Engine) toHypotheses(incident *models.Incident, candidates []Candidate) []*models.Hypothesis {
	out := make([]*models.Hypothesis, 0, e.maxHypotheses)
	for _, c := range candidates {
		if len(out) == e.maxHypotheses {
			break
		}
		claim := strings.TrimSpace(c.Claim)
		if claim == "" {
			continue
		}

		evidence := models.StringList{}
		for _, ev := range c.SupportingEvidence {
			if len(evidence) == maxEvidenceItems {
				break
			}
			ev = strings.TrimSpace(ev)
			if ev == "" {
				continue
			}
			evidence = append(evidence, truncate(ev, maxEvidenceLen))
		}

		out = append(out, &models.Hypothesis{
			TenantID:        incident.TenantID,
			IncidentID:      incident.ID,
			Claim:           truncate(claim, maxClaimLen),
			Description:     truncate(strings.TrimSpace(c.Description), maxDescriptionLen),
			ConfidenceScore: clamp01(c.ConfidenceScore),
			Rank:            len(out) + 1,
			Evidence:        evidence,
		})
	}
	return out
}

func (e *Engine) publishHypotheses(ctx context.Context, incident *models.Incident, hypotheses []*models.Hypothesis, cached bool) {
	for _, h := range hypotheses {
		err := e.publisher.PublishHypothesisGenerated(ctx, incident.TenantID, events.HypothesisPayload{
			IncidentID:   incident.ID,
			HypothesisID: h.ID,
			Title:        h.Claim,
			Confidence:   h.ConfidenceScore,
			Rank:         h.Rank,
			Cached:       cached,
		})
		if err != nil {
			slog.Error("Failed to publish hypothesis event",
				"incident_id", incident.ID,
				"error", err)
		}
	}
}

// failStep marks the hypothesis step failed so the workflow surfaces a
// broken generation instead of hanging in pending.
func (e *Engine) failStep(ctx context.Context, incident *models.Incident, cause error) {
	if err := e.stores.Incidents.FailStep(ctx, incident.TenantID, incident.ID,
		models.StepHypothesisGenerated, cause.Error()); err != nil {
		slog.Error("Failed to mark analysis step failed",
			"incident_id", incident.ID,
			"error", err)
	}
}

// cost converts token usage into dollars at the configured per-million
// rates.
func (e *Engine) cost(usage Usage) float64 {
	return float64(usage.InputTokens)*e.inputTokenPrice/1e6 +
		float64(usage.OutputTokens)*e.outputTokenPrice/1e6
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// truncate bounds s to limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
