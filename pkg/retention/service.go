// Package retention enforces the platform's data retention policies:
// raw telemetry past the retention horizon, resolved alerts past their
// TTL and delivered event rows past catchup reach are deleted on a
// fixed interval. Every sweep is idempotent and safe to run from
// multiple pods at once.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/store"
)

// Service is the background retention sweeper.
type Service struct {
	cfg    config.RetentionConfig
	stores *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the sweeper. Start launches it.
func NewService(cfg config.RetentionConfig, stores *store.Store) *Service {
	return &Service{cfg: cfg, stores: stores}
}

// Start launches the sweeper goroutine. The first sweep runs right
// away; later ones follow cfg.CleanupInterval. Start on a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)

	slog.Info("Retention sweeper started",
		"telemetry_retention_days", s.cfg.TelemetryRetentionDays,
		"resolved_alert_ttl", s.cfg.ResolvedAlertTTL,
		"event_ttl", s.cfg.EventTTL,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the sweeper to exit and waits for the in-flight sweep,
// if any, to finish. Safe to call more than once.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// policy is one retention rule: given the sweep time, delete what has
// expired and report how many rows went.
type policy struct {
	name string
	run  func(ctx context.Context, now time.Time) (int64, error)
}

func (s *Service) policies() []policy {
	return []policy{
		{"telemetry", func(ctx context.Context, now time.Time) (int64, error) {
			return s.stores.Telemetry.DeleteOlderThan(ctx, now.AddDate(0, 0, -s.cfg.TelemetryRetentionDays))
		}},
		{"resolved_alerts", func(ctx context.Context, now time.Time) (int64, error) {
			return s.stores.Alerts.DeleteResolvedBefore(ctx, now.Add(-s.cfg.ResolvedAlertTTL))
		}},
		{"events", func(ctx context.Context, now time.Time) (int64, error) {
			return s.stores.Events.DeleteBefore(ctx, now.Add(-s.cfg.EventTTL))
		}},
	}
}

// sweep runs every policy once against a single reference time. A
// failing policy is logged and skipped; the rest still run, and the
// next tick retries.
func (s *Service) sweep(ctx context.Context) {
	now := time.Now()
	for _, p := range s.policies() {
		deleted, err := p.run(ctx, now)
		if err != nil {
			slog.Error("Retention sweep failed", "policy", p.name, "error", err)
			continue
		}
		if deleted > 0 {
			slog.Info("Retention sweep deleted expired rows", "policy", p.name, "count", deleted)
		}
	}
}
