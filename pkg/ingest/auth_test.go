package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/models"
)

func TestAuthenticator_Authenticate(t *testing.T) {
	stores := newTestStores(t)
	kv := newTestCache(t)
	authenticator := NewAuthenticator(stores.APIKeys, kv)
	ctx := context.Background()

	t.Run("valid key resolves project context", func(t *testing.T) {
		raw, seeded := seedKey(t, stores, []string{"metrics", "errors"}, nil)

		key, err := authenticator.Authenticate(ctx, raw, models.DomainMetrics)
		require.NoError(t, err)
		assert.Equal(t, seeded.TenantID, key.TenantID)
		assert.Equal(t, seeded.ProjectID, key.ProjectID)
	})

	t.Run("scope outside grant is denied", func(t *testing.T) {
		raw, _ := seedKey(t, stores, []string{"metrics"}, nil)

		_, err := authenticator.Authenticate(ctx, raw, models.DomainTraces)
		assert.ErrorIs(t, err, ErrScopeDenied)
	})

	t.Run("wildcard scope covers every domain", func(t *testing.T) {
		raw, _ := seedKey(t, stores, []string{"*"}, nil)

		for _, domain := range models.IngestDomains {
			_, err := authenticator.Authenticate(ctx, raw, domain)
			assert.NoError(t, err, "domain %s", domain)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := authenticator.Authenticate(ctx, "srec_not_a_real_key", models.DomainMetrics)
		assert.ErrorIs(t, err, ErrKeyUnknown)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := authenticator.Authenticate(ctx, "", models.DomainMetrics)
		assert.ErrorIs(t, err, ErrKeyUnknown)
	})

	t.Run("expired key", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		raw, _ := seedKey(t, stores, []string{"*"}, &past)

		_, err := authenticator.Authenticate(ctx, raw, models.DomainMetrics)
		assert.ErrorIs(t, err, ErrKeyExpired)
	})

	t.Run("deactivated key", func(t *testing.T) {
		raw, seeded := seedKey(t, stores, []string{"*"}, nil)
		_, err := stores.APIKeys.Deactivate(ctx, seeded.TenantID, seeded.ID)
		require.NoError(t, err)
		kv.InvalidateAPIKey(ctx, seeded.KeyHash)

		_, err = authenticator.Authenticate(ctx, raw, models.DomainMetrics)
		assert.ErrorIs(t, err, ErrKeyInactive)
	})
}

func TestAuthenticator_CacheBehavior(t *testing.T) {
	stores := newTestStores(t)
	kv := newTestCache(t)
	authenticator := NewAuthenticator(stores.APIKeys, kv)
	ctx := context.Background()

	t.Run("positive hit served without the store", func(t *testing.T) {
		raw, seeded := seedKey(t, stores, []string{"*"}, nil)

		// First call populates the cache.
		_, err := authenticator.Authenticate(ctx, raw, models.DomainMetrics)
		require.NoError(t, err)

		// Remove the backing row; the cached record still authenticates
		// until it expires or is invalidated.
		_, err = stores.DB().ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, seeded.ID)
		require.NoError(t, err)

		_, err = authenticator.Authenticate(ctx, raw, models.DomainMetrics)
		assert.NoError(t, err)

		// Invalidation forces the store path, which now finds nothing.
		kv.InvalidateAPIKey(ctx, seeded.KeyHash)
		_, err = authenticator.Authenticate(ctx, raw, models.DomainMetrics)
		assert.ErrorIs(t, err, ErrKeyUnknown)
	})

	t.Run("negative result is cached", func(t *testing.T) {
		gen, err := auth.GenerateAPIKey()
		require.NoError(t, err)

		// Unknown hash gets negative-cached.
		_, err = authenticator.Authenticate(ctx, gen.Raw, models.DomainMetrics)
		assert.ErrorIs(t, err, ErrKeyUnknown)

		// Creating the key now does not authenticate until the negative
		// entry is gone.
		_, scaffold := seedKey(t, stores, []string{"*"}, nil)
		_, err = stores.APIKeys.Create(ctx, &models.APIKey{
			TenantID:  scaffold.TenantID,
			ProjectID: scaffold.ProjectID,
			Name:      "late key",
			Prefix:    gen.Prefix,
			KeyHash:   gen.Hash,
			Scopes:    models.StringList{"*"},
			IsActive:  true,
		})
		require.NoError(t, err)

		_, err = authenticator.Authenticate(ctx, gen.Raw, models.DomainMetrics)
		assert.ErrorIs(t, err, ErrKeyUnknown, "negative cache entry should still mask the key")

		kv.InvalidateAPIKey(ctx, gen.Hash)
		_, err = authenticator.Authenticate(ctx, gen.Raw, models.DomainMetrics)
		assert.NoError(t, err)
	})
}
