// Package ingest is the agent-facing write plane: API-key
// authentication backed by the KV cache, project-context injection,
// and fan-out to the per-domain storage handlers.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

// Service persists ingest batches. Each method validates the whole
// batch before writing anything, so a rejected batch leaves zero rows.
type Service struct {
	stores *store.Store
}

// NewService creates an ingest Service.
func NewService(stores *store.Store) *Service {
	return &Service{stores: stores}
}

// IngestMetrics persists one metrics-domain batch (metric points and
// APM transactions) and returns the number of rows written.
func (s *Service) IngestMetrics(ctx context.Context, key *models.APIKey, batch *MetricsBatch) (int, error) {
	now := time.Now().UTC()
	seen := map[string]string{}

	points := make([]*models.MetricPoint, 0, len(batch.Metrics))
	for i, in := range batch.Metrics {
		p, err := in.toModel(key, now)
		if err != nil {
			return 0, fmt.Errorf("metrics[%d]: %w", i, err)
		}
		points = append(points, p)
		seen[p.ServiceName] = "service"
	}

	txns := make([]*models.Transaction, 0, len(batch.Transactions))
	for i, in := range batch.Transactions {
		t, err := in.toModel(key, now)
		if err != nil {
			return 0, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		txns = append(txns, t)
		seen[t.ServiceName] = "service"
	}

	if err := s.stores.Telemetry.InsertMetricPoints(ctx, points); err != nil {
		return 0, err
	}
	if err := s.stores.Telemetry.InsertTransactions(ctx, txns); err != nil {
		return 0, err
	}

	s.finish(ctx, key, models.DomainMetrics, seen)
	return len(points) + len(txns), nil
}

// IngestTraces persists one batch of trace spans.
func (s *Service) IngestTraces(ctx context.Context, key *models.APIKey, batch *TracesBatch) (int, error) {
	now := time.Now().UTC()
	seen := map[string]string{}

	spans := make([]*models.Span, 0, len(batch.Spans))
	for i, in := range batch.Spans {
		sp, err := in.toModel(key, now)
		if err != nil {
			return 0, fmt.Errorf("spans[%d]: %w", i, err)
		}
		spans = append(spans, sp)
		seen[sp.ServiceName] = "service"
	}

	if err := s.stores.Telemetry.InsertSpans(ctx, spans); err != nil {
		return 0, err
	}

	s.finish(ctx, key, models.DomainTraces, seen)
	return len(spans), nil
}

// IngestErrors folds each error event into its fingerprint group and
// records the concrete occurrence.
func (s *Service) IngestErrors(ctx context.Context, key *models.APIKey, batch *ErrorsBatch) (int, error) {
	now := time.Now().UTC()
	for i := range batch.Errors {
		if err := batch.Errors[i].validate(); err != nil {
			return 0, fmt.Errorf("errors[%d]: %w", i, err)
		}
	}

	seen := map[string]string{}
	for i := range batch.Errors {
		in := &batch.Errors[i]
		ts := orNow(in.Timestamp, now)

		group, err := s.stores.Errors.UpsertGroup(ctx, &models.ErrorGroup{
			TenantID:    key.TenantID,
			ProjectID:   key.ProjectID,
			ServiceName: in.ServiceName,
			ErrorClass:  in.ErrorClass,
			Message:     in.Message,
			Fingerprint: Fingerprint(in.ServiceName, in.ErrorClass, in.Message),
			FirstSeen:   ts,
			LastSeen:    ts,
		})
		if err != nil {
			return 0, fmt.Errorf("errors[%d]: %w", i, err)
		}

		err = s.stores.Errors.InsertOccurrence(ctx, &models.ErrorOccurrence{
			TenantID:   key.TenantID,
			GroupID:    group.ID,
			Message:    in.Message,
			Stacktrace: in.Stacktrace,
			Context:    models.JSONMap(in.Context),
			Timestamp:  ts,
		})
		if err != nil {
			return 0, fmt.Errorf("errors[%d]: %w", i, err)
		}
		seen[in.ServiceName] = "service"
	}

	s.finish(ctx, key, models.DomainErrors, seen)
	return len(batch.Errors), nil
}

// IngestLogs persists one batch of log records.
func (s *Service) IngestLogs(ctx context.Context, key *models.APIKey, batch *LogsBatch) (int, error) {
	now := time.Now().UTC()
	seen := map[string]string{}

	logs := make([]*models.LogRecord, 0, len(batch.Logs))
	for i, in := range batch.Logs {
		l, err := in.toModel(key, now)
		if err != nil {
			return 0, fmt.Errorf("logs[%d]: %w", i, err)
		}
		logs = append(logs, l)
		seen[l.ServiceName] = "service"
	}

	if err := s.stores.Telemetry.InsertLogRecords(ctx, logs); err != nil {
		return 0, err
	}

	s.finish(ctx, key, models.DomainLogs, seen)
	return len(logs), nil
}

// IngestInfrastructure persists one batch of host samples. Hosts are
// registered as services of type "host".
func (s *Service) IngestInfrastructure(ctx context.Context, key *models.APIKey, batch *InfrastructureBatch) (int, error) {
	now := time.Now().UTC()
	seen := map[string]string{}

	samples := make([]*models.HostSample, 0, len(batch.Samples))
	for i, in := range batch.Samples {
		h, err := in.toModel(key, now)
		if err != nil {
			return 0, fmt.Errorf("samples[%d]: %w", i, err)
		}
		samples = append(samples, h)
		seen[h.Hostname] = "host"
	}

	if err := s.stores.Telemetry.InsertHostSamples(ctx, samples); err != nil {
		return 0, err
	}

	s.finish(ctx, key, models.DomainInfrastructure, seen)
	return len(samples), nil
}

// IngestBrowser persists one batch of real-user-monitoring events.
// Browser events carry no service name, so no registration happens.
func (s *Service) IngestBrowser(ctx context.Context, key *models.APIKey, batch *BrowserBatch) (int, error) {
	now := time.Now().UTC()

	events := make([]*models.BrowserEvent, 0, len(batch.Events))
	for i, in := range batch.Events {
		e, err := in.toModel(key, now)
		if err != nil {
			return 0, fmt.Errorf("events[%d]: %w", i, err)
		}
		events = append(events, e)
	}

	if err := s.stores.Telemetry.InsertBrowserEvents(ctx, events); err != nil {
		return 0, err
	}

	s.finish(ctx, key, models.DomainBrowser, nil)
	return len(events), nil
}

// IngestVulnerabilities persists one batch of dependency scan findings.
func (s *Service) IngestVulnerabilities(ctx context.Context, key *models.APIKey, batch *VulnerabilitiesBatch) (int, error) {
	now := time.Now().UTC()
	seen := map[string]string{}

	vulns := make([]*models.Vulnerability, 0, len(batch.Vulnerabilities))
	for i, in := range batch.Vulnerabilities {
		v, err := in.toModel(key, now)
		if err != nil {
			return 0, fmt.Errorf("vulnerabilities[%d]: %w", i, err)
		}
		vulns = append(vulns, v)
		seen[v.ServiceName] = "service"
	}

	if err := s.stores.Telemetry.InsertVulnerabilities(ctx, vulns); err != nil {
		return 0, err
	}

	s.finish(ctx, key, models.DomainVulnerabilities, seen)
	return len(vulns), nil
}

// finish applies the per-request side effects: registration upserts for
// every observed service name and the key's last_used_at stamp. Both
// are best-effort — the batch already persisted.
func (s *Service) finish(ctx context.Context, key *models.APIKey, domain models.IngestDomain, services map[string]string) {
	for name, serviceType := range services {
		if name == "" {
			continue
		}
		err := s.stores.Services.UpsertRegistration(ctx, key.TenantID, key.ProjectID, name, string(domain), serviceType)
		if err != nil {
			slog.Warn("Service registration upsert failed",
				"service", name, "domain", domain, "error", err)
		}
	}

	if err := s.stores.APIKeys.TouchLastUsed(ctx, key.ID, time.Now().UTC()); err != nil {
		slog.Warn("Failed to update api key last_used_at",
			"key_id", key.ID, "error", err)
	}
}
