package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/ai"
	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/cache"
	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/crypto"
	"github.com/stratushq/stratus/pkg/database"
	"github.com/stratushq/stratus/pkg/events"
	"github.com/stratushq/stratus/pkg/incidents"
	"github.com/stratushq/stratus/pkg/ingest"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
	"github.com/stratushq/stratus/test/util"
)

const (
	testSigningKey     = "test-signing-key-32-bytes-long!!"
	testEncryptionKey  = "0123456789abcdef0123456789abcdef"
	testInternalSecret = "internal-test-secret"
)

// apiEnv is a fully wired server over a real database, served in-memory
// through the echo handler so requests cross every middleware.
type apiEnv struct {
	db      *sqlx.DB
	stores  *store.Store
	server  *Server
	tokens  *auth.TokenManager
	kv      *cache.Client
	cipher  *crypto.Cipher
	project *models.Project
	token   string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db := util.SetupTestDatabase(t)
	stores := store.New(db)
	publisher := events.NewEventPublisher(db)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := cache.NewFromRedis(rdb)

	tokens := auth.NewTokenManager([]byte(testSigningKey), time.Hour)
	cipher, err := crypto.NewCipher([]byte(testEncryptionKey))
	require.NoError(t, err)

	aiCfg := config.AIConfig{Provider: "mock", MaxHypotheses: 3}
	cfg := &config.Config{
		Server:   config.ServerConfig{Port: "0"},
		Auth:     config.AuthConfig{JWTSigningKey: []byte(testSigningKey), TokenTTL: time.Hour, InternalSecret: testInternalSecret},
		AI:       aiCfg,
		Alerting: config.AlertingConfig{ApdexThresholdMS: 500},
	}

	srv := NewServer(
		cfg,
		database.NewClientFromDB(db),
		stores,
		kv,
		tokens,
		incidents.NewService(stores, publisher, nil),
		ai.NewEngine(stores, kv, publisher, ai.MockProvider{}, aiCfg),
		nil,
	)
	srv.SetCipher(cipher)
	srv.SetIngest(ingest.NewAuthenticator(stores.APIKeys, kv), ingest.NewService(stores))
	require.NoError(t, srv.ValidateWiring())

	env := &apiEnv{
		db:     db,
		stores: stores,
		server: srv,
		tokens: tokens,
		kv:     kv,
		cipher: cipher,
	}
	env.seedTenant(t)
	return env
}

func (env *apiEnv) seedTenant(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	tenant, err := env.stores.Tenants.CreateTenant(ctx, "Acme Corp", "acme-"+uuid.NewString()[:8])
	require.NoError(t, err)
	project, err := env.stores.Tenants.CreateProject(ctx, tenant.ID, "Checkout", "checkout")
	require.NoError(t, err)
	env.project = project

	token, err := env.tokens.Issue("user-1", tenant.ID, "alice@acme.test", "admin")
	require.NoError(t, err)
	env.token = token
}

// request serves one HTTP request through the full middleware chain.
// A non-nil body is JSON-encoded. headers may be nil.
func (env *apiEnv) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)
	return rec
}

// authed serves an authenticated dashboard request under the seeded
// tenant's token.
func (env *apiEnv) authed(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return env.request(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + env.token,
	})
}

// decodeData unmarshals the envelope's data field into out.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "ok", envelope.Status)
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
}

// decodeList unmarshals a list envelope's data into out and returns the
// reported total.
func decodeList(t *testing.T, rec *httptest.ResponseRecorder, out any) int {
	t.Helper()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Total  *int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "ok", envelope.Status)
	require.NotNil(t, envelope.Total)
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return *envelope.Total
}

// decodeError unmarshals the error envelope.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Status)
	return resp
}

// issueKey creates and persists an ingest API key for the env's project.
func (env *apiEnv) issueKey(t *testing.T, scopes ...string) (rawKey string, key *models.APIKey) {
	t.Helper()

	gen, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	created, err := env.stores.APIKeys.Create(context.Background(), &models.APIKey{
		TenantID:  env.project.TenantID,
		ProjectID: env.project.ID,
		Name:      "test key",
		Prefix:    gen.Prefix,
		KeyHash:   gen.Hash,
		Scopes:    models.StringList(scopes),
		IsActive:  true,
	})
	require.NoError(t, err)
	return gen.Raw, created
}
