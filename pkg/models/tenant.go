package models

import "time"

// Tenant is the root billing and isolation unit.
type Tenant struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Project scopes all telemetry and configuration below a tenant.
// (tenant_id, slug) is unique.
type Project struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// APIKeyPrefix starts every raw key issued by this service.
const APIKeyPrefix = "srec_"

// APIKey is a project-bound ingest credential. Only the SHA-256 hash of
// the raw key is stored; the raw key is emitted once at creation.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	ProjectID  string     `db:"project_id" json:"project_id"`
	Name       string     `db:"name" json:"name"`
	Prefix     string     `db:"prefix" json:"prefix"`
	KeyHash    string     `db:"key_hash" json:"-"`
	Scopes     StringList `db:"scopes" json:"scopes"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// HasScope reports whether the key may write the given ingest domain.
// An empty scope list grants nothing.
func (k *APIKey) HasScope(domain IngestDomain) bool {
	for _, s := range k.Scopes {
		if s == string(domain) || s == "*" {
			return true
		}
	}
	return false
}

// IssuedAPIKey carries the raw key alongside the stored record. The raw
// key is never persisted and never returned again.
type IssuedAPIKey struct {
	*APIKey
	RawKey string `json:"key"`
}
