package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so ambient shell state
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_PORT", "CORS_ORIGINS", "SHUTDOWN_TIMEOUT",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"JWT_SIGNING_KEY", "JWT_TOKEN_TTL", "INTERNAL_SERVICE_SECRET", "ENCRYPTION_KEY",
		"AI_PROVIDER", "ANTHROPIC_API_KEY", "AI_MODEL", "AI_MAX_HYPOTHESES",
		"AI_INPUT_TOKEN_PRICE", "AI_OUTPUT_TOKEN_PRICE",
		"ALERT_TICK_INTERVAL", "ALERTING_CONFIG_PATH", "APDEX_THRESHOLD_MS",
		"EDGE_PORT", "BACKEND_URL", "RATE_LIMIT_PER_SECOND", "RATE_LIMIT_BURST", "PROXY_TIMEOUT",
		"RETENTION_TELEMETRY_DAYS", "RETENTION_RESOLVED_ALERT_TTL",
		"RETENTION_EVENT_TTL", "RETENTION_CLEANUP_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SIGNING_KEY", "test-signing-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, []byte("test-signing-key"), cfg.Auth.JWTSigningKey)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Empty(t, cfg.Auth.EncryptionKey)

	// No API key configured, so the provider resolves to mock.
	assert.Equal(t, "mock", cfg.AI.Provider)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.AI.Model)
	assert.Equal(t, 3, cfg.AI.MaxHypotheses)
	assert.Equal(t, 3.0, cfg.AI.InputTokenPrice)
	assert.Equal(t, 15.0, cfg.AI.OutputTokenPrice)

	assert.Equal(t, 30*time.Second, cfg.Alerting.TickInterval)
	assert.Empty(t, cfg.Alerting.BootstrapPath)
	assert.Equal(t, 500.0, cfg.Alerting.ApdexThresholdMS)

	assert.Equal(t, "8081", cfg.Edge.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Edge.BackendURL)
	assert.Equal(t, 50.0, cfg.Edge.RatePerSecond)
	assert.Equal(t, 100, cfg.Edge.Burst)
	assert.Equal(t, 30*time.Second, cfg.Edge.ProxyTimeout)

	assert.Equal(t, 30, cfg.Retention.TelemetryRetentionDays)
	assert.Equal(t, 72*time.Hour, cfg.Retention.ResolvedAlertTTL)
	assert.Equal(t, 24*time.Hour, cfg.Retention.EventTTL)
	assert.Equal(t, time.Hour, cfg.Retention.CleanupInterval)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SIGNING_KEY", "k")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("REDIS_DB", "4")
	t.Setenv("JWT_TOKEN_TTL", "30m")
	t.Setenv("ALERT_TICK_INTERVAL", "10s")
	t.Setenv("RATE_LIMIT_PER_SECOND", "12.5")
	t.Setenv("RETENTION_TELEMETRY_DAYS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 4, cfg.Redis.DB)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, 10*time.Second, cfg.Alerting.TickInterval)
	assert.Equal(t, 12.5, cfg.Edge.RatePerSecond)
	assert.Equal(t, 7, cfg.Retention.TelemetryRetentionDays)
}

func TestLoad_ProviderResolution(t *testing.T) {
	t.Run("api key present resolves to anthropic", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SIGNING_KEY", "k")
		t.Setenv("ANTHROPIC_API_KEY", "sk-test")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.AI.Provider)
	})

	t.Run("explicit anthropic without key fails", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SIGNING_KEY", "k")
		t.Setenv("AI_PROVIDER", "anthropic")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingRequiredField)
		assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
	})

	t.Run("explicit mock ignores key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SIGNING_KEY", "k")
		t.Setenv("AI_PROVIDER", "mock")
		t.Setenv("ANTHROPIC_API_KEY", "sk-test")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "mock", cfg.AI.Provider)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SIGNING_KEY", "k")
		t.Setenv("AI_PROVIDER", "openai")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Run("missing signing key", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingRequiredField)
		assert.Contains(t, err.Error(), "JWT_SIGNING_KEY")
	})

	t.Run("encryption key must be 32 bytes", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SIGNING_KEY", "k")
		t.Setenv("ENCRYPTION_KEY", "too-short")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidValue)
		assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
	})

	t.Run("empty encryption key allowed", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SIGNING_KEY", "k")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Empty(t, cfg.Auth.EncryptionKey)
	})

	t.Run("zero tick interval rejected", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SIGNING_KEY", "k")
		t.Setenv("ALERT_TICK_INTERVAL", "0s")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestLoad_ParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "SHUTDOWN_TIMEOUT", "soon"},
		{"bad int", "REDIS_DB", "four"},
		{"bad float", "RATE_LIMIT_PER_SECOND", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JWT_SIGNING_KEY", "k")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
