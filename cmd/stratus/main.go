// Stratus control plane — serves the tenant API, ingests agent
// telemetry, evaluates alert conditions, and streams events to
// dashboards over WebSocket.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stratushq/stratus/pkg/ai"
	"github.com/stratushq/stratus/pkg/alerting"
	"github.com/stratushq/stratus/pkg/api"
	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/cache"
	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/crypto"
	"github.com/stratushq/stratus/pkg/database"
	"github.com/stratushq/stratus/pkg/events"
	"github.com/stratushq/stratus/pkg/gateway"
	"github.com/stratushq/stratus/pkg/incidents"
	"github.com/stratushq/stratus/pkg/ingest"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/retention"
	"github.com/stratushq/stratus/pkg/store"
	"github.com/stratushq/stratus/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, using process environment", "error", err)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Stratus control plane",
		"version", version.Full(),
		"http_port", cfg.Server.Port,
		"ai_provider", cfg.AI.Provider)

	// 2. Database + migrations
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	stores := store.New(dbClient.DB())

	// 3. Redis cache. Unreachable Redis degrades to store-only lookups
	// rather than failing startup.
	kv := cache.New(ctx, cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := kv.Close(); err != nil {
			slog.Error("Error closing cache client", "error", err)
		}
	}()

	// 4. Auth and secrets
	tokens := auth.NewTokenManager(cfg.Auth.JWTSigningKey, cfg.Auth.TokenTTL)
	warnings := api.NewWarnings()

	var cipher *crypto.Cipher
	if len(cfg.Auth.EncryptionKey) > 0 {
		if cipher, err = crypto.NewCipher(cfg.Auth.EncryptionKey); err != nil {
			slog.Error("Failed to initialize cipher", "error", err)
			os.Exit(1)
		}
	} else {
		warnings.Add(api.WarningCategoryEncryption,
			"ENCRYPTION_KEY not set; notification channels and outbound webhooks are disabled",
			"", "crypto")
		slog.Warn("No encryption key configured, channel and webhook surfaces disabled")
	}

	// 5. Event streaming: transactional publisher, WebSocket gateway,
	// and the LISTEN bridge between them
	publisher := events.NewEventPublisher(dbClient.DB())
	connManager := gateway.NewConnectionManager(tokens, stores.Events, 0)

	listener := events.NewNotifyListener(dbCfg.DSN(), connManager)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start notify listener", "error", err)
		os.Exit(1)
	}
	for _, channel := range models.BusChannels {
		if err := listener.Subscribe(ctx, channel); err != nil {
			slog.Error("Failed to subscribe to bus channel", "channel", channel, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Event streaming initialized", "channels", len(models.BusChannels))

	// 6. AI hypothesis engine
	provider := ai.NewProvider(cfg.AI)
	engine := ai.NewEngine(stores, kv, publisher, provider, cfg.AI)
	if cfg.AI.Provider == "mock" {
		warnings.Add(api.WarningCategoryAI,
			"no ANTHROPIC_API_KEY configured; hypothesis generation uses the deterministic mock provider",
			"", "ai")
		slog.Warn("AI provider running in mock mode")
	}

	// 7. Domain services
	incidentSvc := incidents.NewService(stores, publisher, engine)
	notifier := alerting.NewNotifier(stores, publisher, cipher)
	evaluator := alerting.NewEvaluator(stores, publisher, notifier, cfg.Alerting.TickInterval)

	seeder := alerting.NewSeeder(stores, cfg.Alerting.BootstrapPath)
	if err := seeder.SeedAll(ctx); err != nil {
		slog.Error("Failed to seed alert conditions", "error", err)
		os.Exit(1)
	}
	if cfg.Alerting.BootstrapPath == "" {
		warnings.Add(api.WarningCategoryAlerting,
			"ALERTING_CONFIG_PATH not set; builtin default conditions only",
			"", "alerting")
	} else if err := seeder.Watch(ctx); err != nil {
		slog.Error("Failed to watch alerting bootstrap file", "error", err)
		os.Exit(1)
	}
	defer seeder.Stop()

	evaluator.Start(ctx)

	// 8. Retention worker
	retentionSvc := retention.NewService(cfg.Retention, stores)
	retentionSvc.Start(ctx)

	// 9. HTTP server
	srv := api.NewServer(cfg, dbClient, stores, kv, tokens, incidentSvc, engine, connManager)
	srv.SetEvaluator(evaluator)
	srv.SetSeeder(seeder)
	srv.SetIngest(ingest.NewAuthenticator(stores.APIKeys, kv), ingest.NewService(stores))
	srv.SetCipher(cipher)
	srv.SetWarnings(warnings)
	if err := srv.ValidateWiring(); err != nil {
		slog.Error("Server wiring incomplete", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Stratus started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Caught shutdown signal", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server failed, beginning shutdown", "error", err)
	}

	// 11. Graceful shutdown. Producers stop before the transports they
	// publish through: evaluator and retention first, then the listener,
	// then the HTTP server drains in-flight requests.
	evaluator.Stop()
	retentionSvc.Stop()

	listenerCtx, listenerCancel := context.WithTimeout(ctx, 5*time.Second)
	listener.Stop(listenerCtx)
	listenerCancel()

	httpCtx, httpCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown finished")
}
