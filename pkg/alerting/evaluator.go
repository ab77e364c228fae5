// Package alerting runs the threshold evaluation loop, seeds bootstrap
// conditions, and fans alert notifications out to channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/stratushq/stratus/pkg/events"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

// Evaluator periodically reconciles firing state for every enabled
// alert condition across all tenants. Transitions are idempotent: the
// partial unique index on firing alerts absorbs duplicate fires, and
// resolving an already-resolved condition is a no-op, so overlapping
// ticks and horizontally scaled evaluators converge on the same state.
type Evaluator struct {
	store     *store.Store
	publisher *events.EventPublisher
	notifier  *Notifier
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEvaluator creates an evaluator. The notifier may be nil when no
// notification delivery is configured.
func NewEvaluator(st *store.Store, publisher *events.EventPublisher, notifier *Notifier, interval time.Duration) *Evaluator {
	return &Evaluator{
		store:     st,
		publisher: publisher,
		notifier:  notifier,
		interval:  interval,
	}
}

// Start launches the background evaluation loop.
func (e *Evaluator) Start(ctx context.Context) {
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go e.run(ctx)

	slog.Info("Alert evaluator started", "interval", e.interval)
}

// Stop signals the evaluation loop to exit and waits for it to finish.
func (e *Evaluator) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	slog.Info("Alert evaluator stopped")
}

// Running reports whether the evaluation loop is active. Valid after
// Start has been called from the startup goroutine.
func (e *Evaluator) Running() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *Evaluator) run(ctx context.Context) {
	defer close(e.done)

	e.safeTick(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

// safeTick isolates one pass: a panic aborts the pass, not the loop,
// and the next tick starts fresh.
func (e *Evaluator) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Alert evaluation pass panicked",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	e.Tick(ctx)
}

// Tick runs one evaluation pass over every enabled condition. A
// per-condition failure is logged and never blocks the rest of the
// pass.
func (e *Evaluator) Tick(ctx context.Context) {
	conds, err := e.store.Alerts.ListEnabledConditions(ctx)
	if err != nil {
		slog.Error("Alert evaluation: listing conditions failed", "error", err)
		return
	}

	for _, cond := range conds {
		if ctx.Err() != nil {
			return
		}
		if err := e.evaluate(ctx, cond); err != nil {
			slog.Error("Alert evaluation failed",
				"condition", cond.Name,
				"condition_id", cond.ID,
				"error", err)
		}
	}
}

func (e *Evaluator) evaluate(ctx context.Context, cond *models.AlertCondition) error {
	since := time.Now().UTC().Add(-time.Duration(cond.DurationMinutes) * time.Minute)

	stats, err := deriveSLI(ctx, e.store.Telemetry, cond, since)
	if err != nil {
		return err
	}
	if stats.Count == 0 {
		// No samples in the window: neither fire nor resolve.
		return nil
	}

	if cond.Operator.Compare(stats.Value, cond.Threshold) {
		return e.fire(ctx, cond, stats.Value)
	}
	return e.resolve(ctx, cond, stats.Value)
}

func (e *Evaluator) fire(ctx context.Context, cond *models.AlertCondition, value float64) error {
	alert := &models.ActiveAlert{
		TenantID:    cond.TenantID,
		ProjectID:   cond.ProjectID,
		ConditionID: cond.ID,
		Title:       cond.Name,
		Description: describeBreach(cond, value),
		Severity:    cond.Severity,
		Status:      models.AlertFiring,
		MetricValue: value,
	}

	created, err := e.store.Alerts.CreateActiveAlert(ctx, alert)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Already firing; the breach continues but nothing new
			// happened.
			return nil
		}
		return err
	}

	slog.Info("Alert fired",
		"condition", cond.Name,
		"alert_id", created.ID,
		"severity", created.Severity,
		"value", value,
		"threshold", cond.Threshold)

	if err := e.publisher.PublishAlertFired(ctx, cond.TenantID, events.AlertPayload{
		AlertID:       created.ID,
		ConditionID:   cond.ID,
		ProjectID:     cond.ProjectID,
		ConditionName: cond.Name,
		Severity:      created.Severity,
		Status:        created.Status,
		MetricValue:   value,
	}); err != nil {
		slog.Error("Publishing alert.fired failed", "alert_id", created.ID, "error", err)
	}

	e.notifier.Notify(ctx, cond, created)
	return nil
}

func (e *Evaluator) resolve(ctx context.Context, cond *models.AlertCondition, value float64) error {
	resolved, err := e.store.Alerts.ResolveFiringAlert(ctx, cond.ID, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Nothing was firing.
			return nil
		}
		return err
	}

	slog.Info("Alert resolved",
		"condition", cond.Name,
		"alert_id", resolved.ID,
		"value", value)

	if err := e.publisher.PublishAlertResolved(ctx, cond.TenantID, events.AlertPayload{
		AlertID:       resolved.ID,
		ConditionID:   cond.ID,
		ProjectID:     cond.ProjectID,
		ConditionName: cond.Name,
		Severity:      resolved.Severity,
		Status:        resolved.Status,
		MetricValue:   value,
	}); err != nil {
		slog.Error("Publishing alert.resolved failed", "alert_id", resolved.ID, "error", err)
	}
	return nil
}

func describeBreach(cond *models.AlertCondition, value float64) string {
	scope := cond.Service
	if scope == "" {
		scope = "all services"
	}
	return fmt.Sprintf("%s %s %g for %s (observed %.2f over %dm)",
		cond.MetricName, cond.Operator, cond.Threshold, scope, value, cond.DurationMinutes)
}
