package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/database"
	"github.com/stratushq/stratus/pkg/version"
)

const (
	stateHealthy   = "healthy"
	stateDegraded  = "degraded"
	stateUnhealthy = "unhealthy"
)

// healthHandler serves GET /health without authentication, so the body
// carries no tenant data. Only components this process owns are probed;
// external dependencies (the model provider, notification targets) are
// deliberately left out so an orchestrator never restarts the control
// plane over someone else's outage.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)

	dbHealth, dbErr := database.Health(ctx, s.db.DB())
	if dbErr != nil {
		checks["database"] = HealthCheck{Status: stateUnhealthy, Message: dbErr.Error()}
	} else {
		checks["database"] = HealthCheck{Status: stateHealthy}
	}

	if s.evaluator != nil {
		check := HealthCheck{Status: stateHealthy}
		if !s.evaluator.Running() {
			check = HealthCheck{Status: stateDegraded, Message: "evaluation loop is not running"}
		}
		checks["evaluator"] = check
	}

	if s.connManager != nil {
		checks["gateway"] = HealthCheck{
			Status:  stateHealthy,
			Message: fmt.Sprintf("%d active connections", s.connManager.ActiveSessions()),
		}
	}

	status, httpStatus := overallHealth(checks)
	return c.JSON(httpStatus, &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Database: dbHealth,
		Checks:   checks,
		Warnings: s.warnings.List(),
	})
}

// overallHealth folds the individual checks into one verdict: any
// unhealthy component fails the probe with a 503, a degraded one keeps
// 200 but flags the body.
func overallHealth(checks map[string]HealthCheck) (string, int) {
	status := stateHealthy
	for _, check := range checks {
		switch check.Status {
		case stateUnhealthy:
			return stateUnhealthy, http.StatusServiceUnavailable
		case stateDegraded:
			status = stateDegraded
		}
	}
	return status, http.StatusOK
}
