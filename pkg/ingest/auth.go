package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/cache"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

// Authenticator resolves presented API keys: one-way hash, cache lookup
// with store fallback, then activity/expiry/scope checks.
type Authenticator struct {
	keys *store.APIKeyStore
	kv   *cache.Client
}

// NewAuthenticator creates an Authenticator over the key store and the
// KV cache.
func NewAuthenticator(keys *store.APIKeyStore, kv *cache.Client) *Authenticator {
	return &Authenticator{keys: keys, kv: kv}
}

// Authenticate validates a raw key for one ingest domain and returns
// the key record whose (project_id, tenant_id) the caller injects into
// the payload. Unknown hashes are negative-cached briefly so a flood of
// bad keys does not hammer the store.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string, domain models.IngestDomain) (*models.APIKey, error) {
	if rawKey == "" {
		return nil, ErrKeyUnknown
	}
	hash := auth.HashAPIKey(rawKey)

	key, negative := a.kv.GetAPIKey(ctx, hash)
	if negative {
		return nil, ErrKeyUnknown
	}
	if key == nil {
		stored, err := a.keys.GetByHash(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			a.kv.SetAPIKeyMiss(ctx, hash)
			return nil, ErrKeyUnknown
		}
		if err != nil {
			return nil, fmt.Errorf("api key lookup failed: %w", err)
		}
		a.kv.SetAPIKey(ctx, stored)
		key = stored
	}

	// Activity, expiry, and scope are checked on every request, cached
	// or not, so a cache hit never extends a key past its expiry.
	if !key.IsActive {
		return nil, ErrKeyInactive
	}
	if key.Expired(time.Now()) {
		return nil, ErrKeyExpired
	}
	if !key.HasScope(domain) {
		return nil, ErrScopeDenied
	}
	return key, nil
}
