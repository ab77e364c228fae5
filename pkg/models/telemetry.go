package models

import "time"

// IngestDomain identifies one telemetry storage domain. API-key scopes
// are expressed in terms of domains.
type IngestDomain string

const (
	DomainMetrics         IngestDomain = "metrics"
	DomainTraces          IngestDomain = "traces"
	DomainErrors          IngestDomain = "errors"
	DomainLogs            IngestDomain = "logs"
	DomainInfrastructure  IngestDomain = "infrastructure"
	DomainBrowser         IngestDomain = "browser"
	DomainVulnerabilities IngestDomain = "vulnerabilities"
)

// IngestDomains lists every accepted ingest domain.
var IngestDomains = []IngestDomain{
	DomainMetrics,
	DomainTraces,
	DomainErrors,
	DomainLogs,
	DomainInfrastructure,
	DomainBrowser,
	DomainVulnerabilities,
}

// Valid reports whether d names a known ingest domain.
func (d IngestDomain) Valid() bool {
	for _, known := range IngestDomains {
		if d == known {
			return true
		}
	}
	return false
}

// MetricKind classifies a metric point.
type MetricKind string

const (
	MetricGauge     MetricKind = "gauge"
	MetricCounter   MetricKind = "counter"
	MetricHistogram MetricKind = "histogram"
)

// Valid reports whether k is a known metric kind.
func (k MetricKind) Valid() bool {
	switch k {
	case MetricGauge, MetricCounter, MetricHistogram:
		return true
	}
	return false
}

// MetricPoint is one append-only metric sample.
type MetricPoint struct {
	ID          string     `db:"id" json:"id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	ProjectID   string     `db:"project_id" json:"project_id"`
	ServiceName string     `db:"service_name" json:"service_name"`
	MetricName  string     `db:"metric_name" json:"metric_name"`
	Value       float64    `db:"value" json:"value"`
	Kind        MetricKind `db:"kind" json:"kind"`
	Tags        JSONMap    `db:"tags" json:"tags,omitempty"`
	Timestamp   time.Time  `db:"timestamp" json:"timestamp"`
}

// Transaction records one HTTP call handled by an instrumented service.
// Error rate, average latency, and percentiles are derived on read.
type Transaction struct {
	ID                 string    `db:"id" json:"id"`
	TenantID           string    `db:"tenant_id" json:"tenant_id"`
	ProjectID          string    `db:"project_id" json:"project_id"`
	ServiceName        string    `db:"service_name" json:"service_name"`
	Endpoint           string    `db:"endpoint" json:"endpoint"`
	Method             string    `db:"method" json:"method"`
	StatusCode         int       `db:"status_code" json:"status_code"`
	DurationMS         float64   `db:"duration_ms" json:"duration_ms"`
	DBDurationMS       float64   `db:"db_duration_ms" json:"db_duration_ms"`
	ExternalDurationMS float64   `db:"external_duration_ms" json:"external_duration_ms"`
	Error              bool      `db:"error" json:"error"`
	Timestamp          time.Time `db:"timestamp" json:"timestamp"`
}

// Span is one node of a trace forest. ParentSpanID is nil for roots and
// must never reference a span outside the same trace.
type Span struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	ProjectID    string    `db:"project_id" json:"project_id"`
	TraceID      string    `db:"trace_id" json:"trace_id"`
	SpanID       string    `db:"span_id" json:"span_id"`
	ParentSpanID *string   `db:"parent_span_id" json:"parent_span_id,omitempty"`
	ServiceName  string    `db:"service_name" json:"service_name"`
	Name         string    `db:"name" json:"name"`
	Kind         string    `db:"kind" json:"kind"`
	StartTime    time.Time `db:"start_time" json:"start_time"`
	DurationMS   float64   `db:"duration_ms" json:"duration_ms"`
	StatusCode   string    `db:"status_code" json:"status_code"`
	Attributes   JSONMap   `db:"attributes" json:"attributes,omitempty"`
}

// LogRecord is one structured log line.
type LogRecord struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	ProjectID   string    `db:"project_id" json:"project_id"`
	ServiceName string    `db:"service_name" json:"service_name"`
	Level       string    `db:"level" json:"level"`
	Message     string    `db:"message" json:"message"`
	TraceID     *string   `db:"trace_id" json:"trace_id,omitempty"`
	Attributes  JSONMap   `db:"attributes" json:"attributes,omitempty"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// HostSample is one infrastructure sample reported by a host agent.
type HostSample struct {
	ID            string    `db:"id" json:"id"`
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	ProjectID     string    `db:"project_id" json:"project_id"`
	Hostname      string    `db:"hostname" json:"hostname"`
	CPUPercent    float64   `db:"cpu_percent" json:"cpu_percent"`
	MemoryPercent float64   `db:"memory_percent" json:"memory_percent"`
	MemoryUsedMB  float64   `db:"memory_used_mb" json:"memory_used_mb"`
	DiskPercent   float64   `db:"disk_percent" json:"disk_percent"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`
}

// BrowserEvent is one real-user-monitoring event from the browser SDK.
type BrowserEvent struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	PageURL    string    `db:"page_url" json:"page_url"`
	EventType  string    `db:"event_type" json:"event_type"`
	DurationMS float64   `db:"duration_ms" json:"duration_ms"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	Attributes JSONMap   `db:"attributes" json:"attributes,omitempty"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
}

// Vulnerability is one finding from a dependency scan.
type Vulnerability struct {
	ID               string    `db:"id" json:"id"`
	TenantID         string    `db:"tenant_id" json:"tenant_id"`
	ProjectID        string    `db:"project_id" json:"project_id"`
	ServiceName      string    `db:"service_name" json:"service_name"`
	PackageName      string    `db:"package_name" json:"package_name"`
	InstalledVersion string    `db:"installed_version" json:"installed_version"`
	CVEID            string    `db:"cve_id" json:"cve_id"`
	Severity         string    `db:"severity" json:"severity"`
	Description      string    `db:"description" json:"description"`
	FixedIn          *string   `db:"fixed_in" json:"fixed_in,omitempty"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
}

// ErrorGroup aggregates error occurrences sharing a fingerprint. The
// fingerprint is unique per project.
type ErrorGroup struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	ProjectID   string    `db:"project_id" json:"project_id"`
	ServiceName string    `db:"service_name" json:"service_name"`
	ErrorClass  string    `db:"error_class" json:"error_class"`
	Message     string    `db:"message" json:"message"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	Count       int64     `db:"count" json:"count"`
	FirstSeen   time.Time `db:"first_seen" json:"first_seen"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
}

// ErrorOccurrence is one concrete error event owned by an ErrorGroup.
type ErrorOccurrence struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	GroupID    string    `db:"group_id" json:"group_id"`
	Message    string    `db:"message" json:"message"`
	Stacktrace *string   `db:"stacktrace" json:"stacktrace,omitempty"`
	Context    JSONMap   `db:"context" json:"context,omitempty"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
}

// ServiceRegistration records a service discovered from ingest traffic.
type ServiceRegistration struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	ProjectID   string    `db:"project_id" json:"project_id"`
	ServiceName string    `db:"service_name" json:"service_name"`
	Source      string    `db:"source" json:"source"`
	Type        string    `db:"type" json:"type"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// WebhookConnection binds one CI provider webhook to a project. Secret
// is AES-GCM ciphertext of the shared signing secret.
type WebhookConnection struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Provider  string    `db:"provider" json:"provider"`
	Secret    string    `db:"secret" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Deployment records a deploy-adjacent event accepted from a CI webhook.
type Deployment struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	ProjectID    string    `db:"project_id" json:"project_id"`
	ConnectionID string    `db:"connection_id" json:"connection_id"`
	Provider     string    `db:"provider" json:"provider"`
	EventType    string    `db:"event_type" json:"event_type"`
	ServiceName  *string   `db:"service_name" json:"service_name,omitempty"`
	Ref          *string   `db:"ref" json:"ref,omitempty"`
	SHA          *string   `db:"sha" json:"sha,omitempty"`
	Status       *string   `db:"status" json:"status,omitempty"`
	Actor        *string   `db:"actor" json:"actor,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ServiceMetrics is the derived read-model for one service over a time
// window. Percentiles and Apdex are computed in SQL, never stored.
type ServiceMetrics struct {
	ServiceName      string  `db:"service_name" json:"service_name"`
	TransactionCount int64   `db:"transaction_count" json:"transaction_count"`
	ErrorCount       int64   `db:"error_count" json:"error_count"`
	ErrorRate        float64 `db:"error_rate" json:"error_rate"`
	AvgDurationMS    float64 `db:"avg_duration_ms" json:"avg_duration_ms"`
	P50DurationMS    float64 `db:"p50_duration_ms" json:"p50_duration_ms"`
	P95DurationMS    float64 `db:"p95_duration_ms" json:"p95_duration_ms"`
	P99DurationMS    float64 `db:"p99_duration_ms" json:"p99_duration_ms"`
	Apdex            float64 `db:"apdex" json:"apdex"`
}
