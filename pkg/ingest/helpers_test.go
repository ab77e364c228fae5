package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/cache"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
	"github.com/stratushq/stratus/test/util"
)

func newTestStores(t *testing.T) *store.Store {
	t.Helper()
	return store.New(util.SetupTestDatabase(t))
}

func newTestCache(t *testing.T) *cache.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return cache.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

// seedKey creates a tenant, a project, and an active API key with the
// given scopes, returning the raw key alongside the stored record.
func seedKey(t *testing.T, stores *store.Store, scopes []string, expiresAt *time.Time) (string, *models.APIKey) {
	t.Helper()
	ctx := context.Background()

	tenant, err := stores.Tenants.CreateTenant(ctx, "Acme Corp", "acme-"+uuid.NewString()[:8])
	require.NoError(t, err)
	project, err := stores.Tenants.CreateProject(ctx, tenant.ID, "Checkout", "checkout")
	require.NoError(t, err)

	gen, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	key, err := stores.APIKeys.Create(ctx, &models.APIKey{
		TenantID:  tenant.ID,
		ProjectID: project.ID,
		Name:      "agent key",
		Prefix:    gen.Prefix,
		KeyHash:   gen.Hash,
		Scopes:    models.StringList(scopes),
		IsActive:  true,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return gen.Raw, key
}
