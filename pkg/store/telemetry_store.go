package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stratushq/stratus/pkg/models"
)

// TelemetryStore persists the append-only telemetry domains and serves
// the derived read models the alert engine and API consume.
type TelemetryStore struct {
	db *sqlx.DB
}

// NewTelemetryStore creates a new TelemetryStore.
func NewTelemetryStore(db *sqlx.DB) *TelemetryStore {
	return &TelemetryStore{db: db}
}

// WindowStats is one aggregate over an evaluation window. Count is the
// number of contributing rows; zero means no sample existed.
type WindowStats struct {
	Value float64 `db:"value"`
	Count int64   `db:"count"`
}

// InsertMetricPoints appends a batch of metric samples in one transaction.
func (s *TelemetryStore) InsertMetricPoints(ctx context.Context, points []*models.MetricPoint) error {
	if len(points) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, p := range points {
			if p.ID == "" {
				p.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO metric_points (id, tenant_id, project_id, service_name, metric_name, value, kind, tags, timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				p.ID, p.TenantID, p.ProjectID, p.ServiceName, p.MetricName, p.Value, p.Kind, p.Tags, p.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert metric point: %w", err)
			}
		}
		return nil
	})
}

// InsertTransactions appends a batch of HTTP call records.
func (s *TelemetryStore) InsertTransactions(ctx context.Context, txns []*models.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, t := range txns {
			if t.ID == "" {
				t.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (id, tenant_id, project_id, service_name, endpoint, method, status_code,
				   duration_ms, db_duration_ms, external_duration_ms, error, timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				t.ID, t.TenantID, t.ProjectID, t.ServiceName, t.Endpoint, t.Method, t.StatusCode,
				t.DurationMS, t.DBDurationMS, t.ExternalDurationMS, t.Error, t.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert transaction: %w", err)
			}
		}
		return nil
	})
}

// InsertSpans appends a batch of trace spans.
func (s *TelemetryStore) InsertSpans(ctx context.Context, spans []*models.Span) error {
	if len(spans) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, sp := range spans {
			if sp.ID == "" {
				sp.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO spans (id, tenant_id, project_id, trace_id, span_id, parent_span_id, service_name,
				   name, kind, start_time, duration_ms, status_code, attributes)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				sp.ID, sp.TenantID, sp.ProjectID, sp.TraceID, sp.SpanID, sp.ParentSpanID, sp.ServiceName,
				sp.Name, sp.Kind, sp.StartTime, sp.DurationMS, sp.StatusCode, sp.Attributes)
			if err != nil {
				return fmt.Errorf("failed to insert span: %w", err)
			}
		}
		return nil
	})
}

// InsertLogRecords appends a batch of log lines.
func (s *TelemetryStore) InsertLogRecords(ctx context.Context, logs []*models.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, l := range logs {
			if l.ID == "" {
				l.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO log_records (id, tenant_id, project_id, service_name, level, message, trace_id, attributes, timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				l.ID, l.TenantID, l.ProjectID, l.ServiceName, l.Level, l.Message, l.TraceID, l.Attributes, l.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert log record: %w", err)
			}
		}
		return nil
	})
}

// InsertHostSamples appends a batch of infrastructure samples.
func (s *TelemetryStore) InsertHostSamples(ctx context.Context, samples []*models.HostSample) error {
	if len(samples) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, h := range samples {
			if h.ID == "" {
				h.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO host_samples (id, tenant_id, project_id, hostname, cpu_percent, memory_percent, memory_used_mb, disk_percent, timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				h.ID, h.TenantID, h.ProjectID, h.Hostname, h.CPUPercent, h.MemoryPercent, h.MemoryUsedMB, h.DiskPercent, h.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert host sample: %w", err)
			}
		}
		return nil
	})
}

// InsertBrowserEvents appends a batch of RUM events.
func (s *TelemetryStore) InsertBrowserEvents(ctx context.Context, events []*models.BrowserEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, e := range events {
			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO browser_events (id, tenant_id, project_id, session_id, page_url, event_type, duration_ms, user_agent, attributes, timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				e.ID, e.TenantID, e.ProjectID, e.SessionID, e.PageURL, e.EventType, e.DurationMS, e.UserAgent, e.Attributes, e.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert browser event: %w", err)
			}
		}
		return nil
	})
}

// InsertVulnerabilities appends a batch of scan findings.
func (s *TelemetryStore) InsertVulnerabilities(ctx context.Context, vulns []*models.Vulnerability) error {
	if len(vulns) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, v := range vulns {
			if v.ID == "" {
				v.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO vulnerabilities (id, tenant_id, project_id, service_name, package_name, installed_version, cve_id, severity, description, fixed_in, timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				v.ID, v.TenantID, v.ProjectID, v.ServiceName, v.PackageName, v.InstalledVersion, v.CVEID, v.Severity, v.Description, v.FixedIn, v.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert vulnerability: %w", err)
			}
		}
		return nil
	})
}

// ListMetricPoints returns metric samples for one metric since a cutoff,
// newest first.
func (s *TelemetryStore) ListMetricPoints(ctx context.Context, tenantID, projectID, metricName string, since time.Time, limit int) ([]*models.MetricPoint, error) {
	if limit <= 0 {
		limit = 100
	}
	points := []*models.MetricPoint{}
	err := s.db.SelectContext(ctx, &points,
		`SELECT * FROM metric_points
		 WHERE tenant_id = $1 AND project_id = $2 AND metric_name = $3 AND timestamp >= $4
		 ORDER BY timestamp DESC LIMIT $5`,
		tenantID, projectID, metricName, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric points: %w", err)
	}
	return points, nil
}

// AvgMetric aggregates AVG(value) of one raw metric over the window.
// Service narrows to a single service when non-empty.
func (s *TelemetryStore) AvgMetric(ctx context.Context, tenantID, projectID, metricName, service string, since time.Time) (*WindowStats, error) {
	var stats WindowStats
	err := s.db.GetContext(ctx, &stats,
		`SELECT COALESCE(AVG(value), 0) AS value, COUNT(*) AS count
		 FROM metric_points
		 WHERE tenant_id = $1 AND project_id = $2 AND metric_name = $3 AND timestamp >= $4
		   AND ($5 = '' OR service_name = $5)`,
		tenantID, projectID, metricName, since, service)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metric %q: %w", metricName, err)
	}
	return &stats, nil
}

// ErrorRate derives 100 × errored / total transactions over the window.
func (s *TelemetryStore) ErrorRate(ctx context.Context, tenantID, projectID, service string, since time.Time) (*WindowStats, error) {
	var row struct {
		Total   int64 `db:"total"`
		Errored int64 `db:"errored"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE error) AS errored
		 FROM transactions
		 WHERE tenant_id = $1 AND project_id = $2 AND timestamp >= $3
		   AND ($4 = '' OR service_name = $4)`,
		tenantID, projectID, since, service)
	if err != nil {
		return nil, fmt.Errorf("failed to derive error rate: %w", err)
	}
	stats := &WindowStats{Count: row.Total}
	if row.Total > 0 {
		stats.Value = 100 * float64(row.Errored) / float64(row.Total)
	}
	return stats, nil
}

// AvgTransactionDuration derives AVG(duration_ms) over the window.
func (s *TelemetryStore) AvgTransactionDuration(ctx context.Context, tenantID, projectID, service string, since time.Time) (*WindowStats, error) {
	var stats WindowStats
	err := s.db.GetContext(ctx, &stats,
		`SELECT COALESCE(AVG(duration_ms), 0) AS value, COUNT(*) AS count
		 FROM transactions
		 WHERE tenant_id = $1 AND project_id = $2 AND timestamp >= $3
		   AND ($4 = '' OR service_name = $4)`,
		tenantID, projectID, since, service)
	if err != nil {
		return nil, fmt.Errorf("failed to derive avg duration: %w", err)
	}
	return &stats, nil
}

// AvgHostCPU derives AVG(cpu_percent) from host samples over the window.
// Host narrows to a single hostname when non-empty.
func (s *TelemetryStore) AvgHostCPU(ctx context.Context, tenantID, projectID, host string, since time.Time) (*WindowStats, error) {
	return s.avgHostColumn(ctx, "cpu_percent", tenantID, projectID, host, since)
}

// AvgHostMemory derives AVG(memory_percent) from host samples over the window.
func (s *TelemetryStore) AvgHostMemory(ctx context.Context, tenantID, projectID, host string, since time.Time) (*WindowStats, error) {
	return s.avgHostColumn(ctx, "memory_percent", tenantID, projectID, host, since)
}

func (s *TelemetryStore) avgHostColumn(ctx context.Context, column, tenantID, projectID, host string, since time.Time) (*WindowStats, error) {
	var stats WindowStats
	// column is one of the two fixed names above, never caller input
	query := fmt.Sprintf(
		`SELECT COALESCE(AVG(%s), 0) AS value, COUNT(*) AS count
		 FROM host_samples
		 WHERE tenant_id = $1 AND project_id = $2 AND timestamp >= $3
		   AND ($4 = '' OR hostname = $4)`, column)
	err := s.db.GetContext(ctx, &stats, query, tenantID, projectID, since, host)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate host %s: %w", column, err)
	}
	return &stats, nil
}

// ServiceMetrics derives the full read model for one service: error
// rate, average latency, p50/p95/p99, and Apdex against the given
// satisfaction threshold (tolerating up to 4x).
func (s *TelemetryStore) ServiceMetrics(ctx context.Context, tenantID, projectID, service string, since time.Time, apdexThresholdMS float64) (*models.ServiceMetrics, error) {
	var m models.ServiceMetrics
	err := s.db.GetContext(ctx, &m,
		`SELECT
		   COUNT(*) AS transaction_count,
		   COUNT(*) FILTER (WHERE error) AS error_count,
		   CASE WHEN COUNT(*) > 0
		     THEN 100.0 * (COUNT(*) FILTER (WHERE error))::float / COUNT(*)
		     ELSE 0 END AS error_rate,
		   COALESCE(AVG(duration_ms), 0) AS avg_duration_ms,
		   COALESCE(percentile_cont(0.50) WITHIN GROUP (ORDER BY duration_ms), 0) AS p50_duration_ms,
		   COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms), 0) AS p95_duration_ms,
		   COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms), 0) AS p99_duration_ms,
		   CASE WHEN COUNT(*) > 0
		     THEN (COUNT(*) FILTER (WHERE duration_ms <= $5)
		           + 0.5 * COUNT(*) FILTER (WHERE duration_ms > $5 AND duration_ms <= 4 * $5))::float / COUNT(*)
		     ELSE 0 END AS apdex
		 FROM transactions
		 WHERE tenant_id = $1 AND project_id = $2 AND service_name = $3 AND timestamp >= $4`,
		tenantID, projectID, service, since, apdexThresholdMS)
	if err != nil {
		return nil, fmt.Errorf("failed to derive service metrics: %w", err)
	}
	m.ServiceName = service
	return &m, nil
}

// DeleteOlderThan removes raw telemetry rows past the retention
// horizon, across every time-series table. Derived read models need no
// separate sweep; they are computed from these rows on demand.
func (s *TelemetryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	targets := []struct {
		table  string
		column string
	}{
		{"metric_points", "timestamp"},
		{"transactions", "timestamp"},
		{"spans", "start_time"},
		{"log_records", "timestamp"},
		{"host_samples", "timestamp"},
		{"browser_events", "timestamp"},
	}

	var total int64
	for _, t := range targets {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, t.table, t.column), cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired %s: %w", t.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count deleted %s: %w", t.table, err)
		}
		total += n
	}
	return total, nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *TelemetryStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
