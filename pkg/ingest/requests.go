package ingest

import (
	"time"

	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

// Batch body shapes, one per ingest domain. Agents POST these to
// /ingest/{domain}; the service stamps tenant and project from the
// authenticated key before anything is persisted.

// MetricsBatch carries metric points and APM transactions, which share
// the metrics domain.
type MetricsBatch struct {
	Metrics      []MetricPointInput `json:"metrics"`
	Transactions []TransactionInput `json:"transactions"`
}

// TracesBatch carries trace spans.
type TracesBatch struct {
	Spans []SpanInput `json:"spans"`
}

// ErrorsBatch carries error events for fingerprint grouping.
type ErrorsBatch struct {
	Errors []ErrorEventInput `json:"errors"`
}

// LogsBatch carries structured log lines.
type LogsBatch struct {
	Logs []LogRecordInput `json:"logs"`
}

// InfrastructureBatch carries host agent samples.
type InfrastructureBatch struct {
	Samples []HostSampleInput `json:"samples"`
}

// BrowserBatch carries real-user-monitoring events.
type BrowserBatch struct {
	Events []BrowserEventInput `json:"events"`
}

// VulnerabilitiesBatch carries dependency scan findings.
type VulnerabilitiesBatch struct {
	Vulnerabilities []VulnerabilityInput `json:"vulnerabilities"`
}

// MetricPointInput is one metric sample as sent by an agent.
type MetricPointInput struct {
	ServiceName string         `json:"service_name"`
	MetricName  string         `json:"metric_name"`
	Value       float64        `json:"value"`
	Kind        string         `json:"kind"`
	Tags        map[string]any `json:"tags"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (in *MetricPointInput) toModel(key *models.APIKey, now time.Time) (*models.MetricPoint, error) {
	if in.ServiceName == "" {
		return nil, store.NewValidationError("service_name", "service name is required")
	}
	if in.MetricName == "" {
		return nil, store.NewValidationError("metric_name", "metric name is required")
	}
	kind := models.MetricKind(in.Kind)
	if in.Kind == "" {
		kind = models.MetricGauge
	} else if !kind.Valid() {
		return nil, store.NewValidationError("kind", "unknown metric kind '"+in.Kind+"'")
	}
	return &models.MetricPoint{
		TenantID:    key.TenantID,
		ProjectID:   key.ProjectID,
		ServiceName: in.ServiceName,
		MetricName:  in.MetricName,
		Value:       in.Value,
		Kind:        kind,
		Tags:        models.JSONMap(in.Tags),
		Timestamp:   orNow(in.Timestamp, now),
	}, nil
}

// TransactionInput is one handled HTTP call as reported by an APM agent.
type TransactionInput struct {
	ServiceName        string    `json:"service_name"`
	Endpoint           string    `json:"endpoint"`
	Method             string    `json:"method"`
	StatusCode         int       `json:"status_code"`
	DurationMS         float64   `json:"duration_ms"`
	DBDurationMS       float64   `json:"db_duration_ms"`
	ExternalDurationMS float64   `json:"external_duration_ms"`
	Error              bool      `json:"error"`
	Timestamp          time.Time `json:"timestamp"`
}

func (in *TransactionInput) toModel(key *models.APIKey, now time.Time) (*models.Transaction, error) {
	if in.ServiceName == "" {
		return nil, store.NewValidationError("service_name", "service name is required")
	}
	if in.Endpoint == "" {
		return nil, store.NewValidationError("endpoint", "endpoint is required")
	}
	return &models.Transaction{
		TenantID:           key.TenantID,
		ProjectID:          key.ProjectID,
		ServiceName:        in.ServiceName,
		Endpoint:           in.Endpoint,
		Method:             in.Method,
		StatusCode:         in.StatusCode,
		DurationMS:         in.DurationMS,
		DBDurationMS:       in.DBDurationMS,
		ExternalDurationMS: in.ExternalDurationMS,
		Error:              in.Error,
		Timestamp:          orNow(in.Timestamp, now),
	}, nil
}

// SpanInput is one trace span.
type SpanInput struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	ServiceName  string         `json:"service_name"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	StartTime    time.Time      `json:"start_time"`
	DurationMS   float64        `json:"duration_ms"`
	StatusCode   string         `json:"status_code"`
	Attributes   map[string]any `json:"attributes"`
}

func (in *SpanInput) toModel(key *models.APIKey, now time.Time) (*models.Span, error) {
	if in.TraceID == "" {
		return nil, store.NewValidationError("trace_id", "trace id is required")
	}
	if in.SpanID == "" {
		return nil, store.NewValidationError("span_id", "span id is required")
	}
	if in.ServiceName == "" {
		return nil, store.NewValidationError("service_name", "service name is required")
	}
	if in.Name == "" {
		return nil, store.NewValidationError("name", "span name is required")
	}
	return &models.Span{
		TenantID:     key.TenantID,
		ProjectID:    key.ProjectID,
		TraceID:      in.TraceID,
		SpanID:       in.SpanID,
		ParentSpanID: in.ParentSpanID,
		ServiceName:  in.ServiceName,
		Name:         in.Name,
		Kind:         in.Kind,
		StartTime:    orNow(in.StartTime, now),
		DurationMS:   in.DurationMS,
		StatusCode:   in.StatusCode,
		Attributes:   models.JSONMap(in.Attributes),
	}, nil
}

// ErrorEventInput is one error event before fingerprint grouping.
type ErrorEventInput struct {
	ServiceName string         `json:"service_name"`
	ErrorClass  string         `json:"error_class"`
	Message     string         `json:"message"`
	Stacktrace  *string        `json:"stacktrace"`
	Context     map[string]any `json:"context"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (in *ErrorEventInput) validate() error {
	if in.ServiceName == "" {
		return store.NewValidationError("service_name", "service name is required")
	}
	if in.ErrorClass == "" {
		return store.NewValidationError("error_class", "error class is required")
	}
	if in.Message == "" {
		return store.NewValidationError("message", "message is required")
	}
	return nil
}

// LogRecordInput is one structured log line.
type LogRecordInput struct {
	ServiceName string         `json:"service_name"`
	Level       string         `json:"level"`
	Message     string         `json:"message"`
	TraceID     *string        `json:"trace_id"`
	Attributes  map[string]any `json:"attributes"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (in *LogRecordInput) toModel(key *models.APIKey, now time.Time) (*models.LogRecord, error) {
	if in.ServiceName == "" {
		return nil, store.NewValidationError("service_name", "service name is required")
	}
	if in.Message == "" {
		return nil, store.NewValidationError("message", "message is required")
	}
	level := in.Level
	if level == "" {
		level = "info"
	}
	return &models.LogRecord{
		TenantID:    key.TenantID,
		ProjectID:   key.ProjectID,
		ServiceName: in.ServiceName,
		Level:       level,
		Message:     in.Message,
		TraceID:     in.TraceID,
		Attributes:  models.JSONMap(in.Attributes),
		Timestamp:   orNow(in.Timestamp, now),
	}, nil
}

// HostSampleInput is one infrastructure sample.
type HostSampleInput struct {
	Hostname      string    `json:"hostname"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  float64   `json:"memory_used_mb"`
	DiskPercent   float64   `json:"disk_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

func (in *HostSampleInput) toModel(key *models.APIKey, now time.Time) (*models.HostSample, error) {
	if in.Hostname == "" {
		return nil, store.NewValidationError("hostname", "hostname is required")
	}
	return &models.HostSample{
		TenantID:      key.TenantID,
		ProjectID:     key.ProjectID,
		Hostname:      in.Hostname,
		CPUPercent:    in.CPUPercent,
		MemoryPercent: in.MemoryPercent,
		MemoryUsedMB:  in.MemoryUsedMB,
		DiskPercent:   in.DiskPercent,
		Timestamp:     orNow(in.Timestamp, now),
	}, nil
}

// BrowserEventInput is one real-user-monitoring event.
type BrowserEventInput struct {
	SessionID  string         `json:"session_id"`
	PageURL    string         `json:"page_url"`
	EventType  string         `json:"event_type"`
	DurationMS float64        `json:"duration_ms"`
	UserAgent  string         `json:"user_agent"`
	Attributes map[string]any `json:"attributes"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (in *BrowserEventInput) toModel(key *models.APIKey, now time.Time) (*models.BrowserEvent, error) {
	if in.SessionID == "" {
		return nil, store.NewValidationError("session_id", "session id is required")
	}
	if in.PageURL == "" {
		return nil, store.NewValidationError("page_url", "page url is required")
	}
	if in.EventType == "" {
		return nil, store.NewValidationError("event_type", "event type is required")
	}
	return &models.BrowserEvent{
		TenantID:   key.TenantID,
		ProjectID:  key.ProjectID,
		SessionID:  in.SessionID,
		PageURL:    in.PageURL,
		EventType:  in.EventType,
		DurationMS: in.DurationMS,
		UserAgent:  in.UserAgent,
		Attributes: models.JSONMap(in.Attributes),
		Timestamp:  orNow(in.Timestamp, now),
	}, nil
}

// VulnerabilityInput is one dependency scan finding.
type VulnerabilityInput struct {
	ServiceName      string    `json:"service_name"`
	PackageName      string    `json:"package_name"`
	InstalledVersion string    `json:"installed_version"`
	CVEID            string    `json:"cve_id"`
	Severity         string    `json:"severity"`
	Description      string    `json:"description"`
	FixedIn          *string   `json:"fixed_in"`
	Timestamp        time.Time `json:"timestamp"`
}

func (in *VulnerabilityInput) toModel(key *models.APIKey, now time.Time) (*models.Vulnerability, error) {
	if in.ServiceName == "" {
		return nil, store.NewValidationError("service_name", "service name is required")
	}
	if in.PackageName == "" {
		return nil, store.NewValidationError("package_name", "package name is required")
	}
	if in.CVEID == "" {
		return nil, store.NewValidationError("cve_id", "cve id is required")
	}
	return &models.Vulnerability{
		TenantID:         key.TenantID,
		ProjectID:        key.ProjectID,
		ServiceName:      in.ServiceName,
		PackageName:      in.PackageName,
		InstalledVersion: in.InstalledVersion,
		CVEID:            in.CVEID,
		Severity:         in.Severity,
		Description:      in.Description,
		FixedIn:          in.FixedIn,
		Timestamp:        orNow(in.Timestamp, now),
	}, nil
}

// orNow defaults an absent agent timestamp to receive time.
func orNow(ts, now time.Time) time.Time {
	if ts.IsZero() {
		return now
	}
	return ts
}
