package alerting

import (
	"context"
	"strings"
	"time"

	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

// deriveSLI computes the indicator value for a condition over its
// trailing window. Raw metric points under the exact name always win;
// the name-class fallbacks apply only when no raw point exists, so an
// agent shipping its own error_rate gauge is never second-guessed. For
// host metrics the condition's service field doubles as a hostname
// filter.
//
// A zero Count in the returned stats means no sample of any kind
// existed; the caller skips the condition silently.
func deriveSLI(ctx context.Context, telemetry *store.TelemetryStore, cond *models.AlertCondition, since time.Time) (*store.WindowStats, error) {
	stats, err := telemetry.AvgMetric(ctx, cond.TenantID, cond.ProjectID, cond.MetricName, cond.Service, since)
	if err != nil {
		return nil, err
	}
	if stats.Count > 0 {
		return stats, nil
	}

	name := strings.ToLower(cond.MetricName)
	switch {
	case strings.Contains(name, "error_rate"):
		return telemetry.ErrorRate(ctx, cond.TenantID, cond.ProjectID, cond.Service, since)
	case strings.Contains(name, "response_time"), strings.Contains(name, "latency"):
		return telemetry.AvgTransactionDuration(ctx, cond.TenantID, cond.ProjectID, cond.Service, since)
	case strings.Contains(name, "cpu"):
		return telemetry.AvgHostCPU(ctx, cond.TenantID, cond.ProjectID, cond.Service, since)
	case strings.Contains(name, "memory"):
		return telemetry.AvgHostMemory(ctx, cond.TenantID, cond.ProjectID, cond.Service, since)
	}
	return stats, nil
}
