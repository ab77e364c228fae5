// Package config loads the control plane's environment-driven
// configuration and the optional alerting bootstrap file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the umbrella configuration object loaded once at startup
// and passed to the components that need it. Database configuration
// lives in pkg/database and is loaded separately.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Auth      AuthConfig
	AI        AIConfig
	Alerting  AlertingConfig
	Edge      EdgeConfig
	Retention RetentionConfig
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Port            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// RedisConfig holds the KV cache connection settings. An empty Addr
// disables the cache; callers degrade to store-only lookups.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds signing and encryption material.
type AuthConfig struct {
	// JWTSigningKey signs and verifies user tokens. Required.
	JWTSigningKey []byte

	// TokenTTL bounds issued token lifetime.
	TokenTTL time.Duration

	// InternalSecret is stamped on edge-proxied requests so internal
	// routes can refuse direct exposure.
	InternalSecret string

	// EncryptionKey encrypts notification channel and webhook secrets
	// at rest. Must be exactly 32 bytes when set; empty disables
	// encryption-dependent features with a startup warning.
	EncryptionKey []byte
}

// AIConfig holds the hypothesis generation settings. Provider is
// "anthropic" or "mock"; when unset it resolves to anthropic if an API
// key is present and mock otherwise.
type AIConfig struct {
	Provider      string
	APIKey        string
	Model         string
	MaxHypotheses int

	// Token prices are USD per million tokens, used for cost
	// accounting on every model call.
	InputTokenPrice  float64
	OutputTokenPrice float64
}

// AlertingConfig holds the evaluator loop settings.
type AlertingConfig struct {
	TickInterval time.Duration

	// BootstrapPath points at the optional alerting.yaml seeding file.
	// Empty means builtin defaults only.
	BootstrapPath string

	// ApdexThresholdMS is the satisfied-duration cutoff for the Apdex
	// read model.
	ApdexThresholdMS float64
}

// EdgeConfig holds the edge router settings.
type EdgeConfig struct {
	Port          string
	BackendURL    string
	RatePerSecond float64
	Burst         int
	ProxyTimeout  time.Duration
}

// RetentionConfig controls the retention worker.
type RetentionConfig struct {
	// TelemetryRetentionDays is how long raw telemetry rows are kept.
	TelemetryRetentionDays int

	// ResolvedAlertTTL is the maximum age of resolved alerts before
	// deletion.
	ResolvedAlertTTL time.Duration

	// EventTTL is the maximum age of delivered event rows. Catchup
	// never reaches past it.
	EventTTL time.Duration

	// CleanupInterval is how often the retention loop runs.
	CleanupInterval time.Duration
}

// Load reads the full configuration from the environment, applying
// defaults and validating required material.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Server = ServerConfig{
		Port:        getEnvOrDefault("HTTP_PORT", "8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
	}
	var err error
	if cfg.Server.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cfg.Redis = RedisConfig{
		Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	cfg.Auth = AuthConfig{
		JWTSigningKey:  []byte(os.Getenv("JWT_SIGNING_KEY")),
		InternalSecret: os.Getenv("INTERNAL_SERVICE_SECRET"),
		EncryptionKey:  []byte(os.Getenv("ENCRYPTION_KEY")),
	}
	if cfg.Auth.TokenTTL, err = getEnvDuration("JWT_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	maxHyp, err := getEnvInt("AI_MAX_HYPOTHESES", 3)
	if err != nil {
		return nil, err
	}
	inPrice, err := getEnvFloat("AI_INPUT_TOKEN_PRICE", 3.0)
	if err != nil {
		return nil, err
	}
	outPrice, err := getEnvFloat("AI_OUTPUT_TOKEN_PRICE", 15.0)
	if err != nil {
		return nil, err
	}
	cfg.AI = AIConfig{
		Provider:         os.Getenv("AI_PROVIDER"),
		APIKey:           os.Getenv("ANTHROPIC_API_KEY"),
		Model:            getEnvOrDefault("AI_MODEL", "claude-sonnet-4-5-20250929"),
		MaxHypotheses:    maxHyp,
		InputTokenPrice:  inPrice,
		OutputTokenPrice: outPrice,
	}
	if cfg.AI.Provider == "" {
		if cfg.AI.APIKey != "" {
			cfg.AI.Provider = "anthropic"
		} else {
			cfg.AI.Provider = "mock"
		}
	}

	apdex, err := getEnvFloat("APDEX_THRESHOLD_MS", 500)
	if err != nil {
		return nil, err
	}
	cfg.Alerting = AlertingConfig{
		BootstrapPath:    os.Getenv("ALERTING_CONFIG_PATH"),
		ApdexThresholdMS: apdex,
	}
	if cfg.Alerting.TickInterval, err = getEnvDuration("ALERT_TICK_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	rate, err := getEnvFloat("RATE_LIMIT_PER_SECOND", 50)
	if err != nil {
		return nil, err
	}
	burst, err := getEnvInt("RATE_LIMIT_BURST", 100)
	if err != nil {
		return nil, err
	}
	cfg.Edge = EdgeConfig{
		Port:          getEnvOrDefault("EDGE_PORT", "8081"),
		BackendURL:    getEnvOrDefault("BACKEND_URL", "http://localhost:8080"),
		RatePerSecond: rate,
		Burst:         burst,
	}
	if cfg.Edge.ProxyTimeout, err = getEnvDuration("PROXY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	retentionDays, err := getEnvInt("RETENTION_TELEMETRY_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.Retention = RetentionConfig{TelemetryRetentionDays: retentionDays}
	if cfg.Retention.ResolvedAlertTTL, err = getEnvDuration("RETENTION_RESOLVED_ALERT_TTL", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Retention.EventTTL, err = getEnvDuration("RETENTION_EVENT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Retention.CleanupInterval, err = getEnvDuration("RETENTION_CLEANUP_INTERVAL", 1*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Auth.JWTSigningKey) == 0 {
		return fmt.Errorf("%w: JWT_SIGNING_KEY", ErrMissingRequiredField)
	}
	if n := len(c.Auth.EncryptionKey); n != 0 && n != 32 {
		return fmt.Errorf("%w: ENCRYPTION_KEY must be 32 bytes, got %d", ErrInvalidValue, n)
	}
	switch c.AI.Provider {
	case "anthropic":
		if c.AI.APIKey == "" {
			return fmt.Errorf("%w: ANTHROPIC_API_KEY is required when AI_PROVIDER=anthropic", ErrMissingRequiredField)
		}
	case "mock":
	default:
		return fmt.Errorf("%w: AI_PROVIDER must be anthropic or mock, got %q", ErrInvalidValue, c.AI.Provider)
	}
	if c.Alerting.TickInterval <= 0 {
		return fmt.Errorf("%w: ALERT_TICK_INTERVAL must be positive", ErrInvalidValue)
	}
	if c.Edge.RatePerSecond <= 0 || c.Edge.Burst <= 0 {
		return fmt.Errorf("%w: rate limit capacity must be positive", ErrInvalidValue)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getEnvList splits a comma-separated env value, trimming whitespace
// around items.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
