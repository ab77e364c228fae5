package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
)

// listServicesHandler handles GET /api/v1/services. Registrations are
// accumulated from observed telemetry, never created directly.
func (s *Server) listServicesHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return missingProjectID()
	}

	services, err := s.stores.Services.List(c.Request().Context(), tenantID(c), projectID)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, services, len(services))
}

// serviceMetricsHandler handles GET /api/v1/metrics/services. Derives
// the read model (throughput, error rate, latency percentiles, Apdex)
// for one service over ?window minutes, default 60.
func (s *Server) serviceMetricsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return missingProjectID()
	}
	service := c.QueryParam("service")
	if service == "" {
		return invalidField("service", "is required")
	}

	window := 60
	if v := c.QueryParam("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10080 {
			return invalidField("window", "must be minutes between 1 and 10080")
		}
		window = n
	}
	since := time.Now().UTC().Add(-time.Duration(window) * time.Minute)

	metrics, err := s.stores.Telemetry.ServiceMetrics(
		c.Request().Context(), tenantID(c), projectID, service, since,
		s.cfg.Alerting.ApdexThresholdMS)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, metrics)
}
