// Stratus edge router — terminates external traffic, applies CORS and
// per-client rate limits, and proxies to the control plane.
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

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/edge"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, using process environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSigningKey, cfg.Auth.TokenTTL)

	server, err := edge.NewServer(cfg, tokens)
	if err != nil {
		slog.Error("Failed to build edge router", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Edge.Port
		slog.Info("Edge router listening", "addr", addr, "backend", cfg.Edge.BackendURL)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("Edge router error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Caught shutdown signal", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server failed, beginning shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Edge router shutdown error", "error", err)
	}

	slog.Info("Shutdown finished")
}
