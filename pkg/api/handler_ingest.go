package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/ingest"
	"github.com/stratushq/stratus/pkg/models"
)

// ingestHandler handles POST /ingest/:domain.
// Authenticates the agent's API key, checks its scope against the
// domain, and persists the batch under the key's tenant and project.
// Nothing is written when authentication fails.
func (s *Server) ingestHandler(c *echo.Context) error {
	if s.ingestSvc == nil || s.ingestAuth == nil {
		return fail(http.StatusServiceUnavailable, CodeServiceUnavailable, "ingest is not available")
	}

	domain := models.IngestDomain(c.Param("domain"))
	if !domain.Valid() {
		return fail(http.StatusNotFound, CodeResourceNotFound, "unknown ingest domain")
	}

	rawKey := c.Request().Header.Get(auth.HeaderAPIKey)
	if rawKey == "" {
		return fail(http.StatusUnauthorized, CodeUnauthorized, "missing API key")
	}

	ctx := c.Request().Context()
	key, err := s.ingestAuth.Authenticate(ctx, rawKey, domain)
	if err != nil {
		return mapError(err)
	}

	var ingested int
	switch domain {
	case models.DomainMetrics:
		var batch ingest.MetricsBatch
		if err := c.Bind(&batch); err != nil {
			return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
		}
		ingested, err = s.ingestSvc.IngestMetrics(ctx, key, &batch)
	case models.DomainTraces:
		var batch ingest.TracesBatch
		if err := c.Bind(&batch); err != nil {
			return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
		}
		ingested, err = s.ingestSvc.IngestTraces(ctx, key, &batch)
	case models.DomainErrors:
		var batch ingest.ErrorsBatch
		if err := c.Bind(&batch); err != nil {
			return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
		}
		ingested, err = s.ingestSvc.IngestErrors(ctx, key, &batch)
	case models.DomainLogs:
		var batch ingest.LogsBatch
		if err := c.Bind(&batch); err != nil {
			return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
		}
		ingested, err = s.ingestSvc.IngestLogs(ctx, key, &batch)
	case models.DomainInfrastructure:
		var batch ingest.InfrastructureBatch
		if err := c.Bind(&batch); err != nil {
			return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
		}
		ingested, err = s.ingestSvc.IngestInfrastructure(ctx, key, &batch)
	case models.DomainBrowser:
		var batch ingest.BrowserBatch
		if err := c.Bind(&batch); err != nil {
			return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
		}
		ingested, err = s.ingestSvc.IngestBrowser(ctx, key, &batch)
	case models.DomainVulnerabilities:
		var batch ingest.VulnerabilitiesBatch
		if err := c.Bind(&batch); err != nil {
			return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
		}
		ingested, err = s.ingestSvc.IngestVulnerabilities(ctx, key, &batch)
	}
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, &IngestResponse{Ingested: ingested})
}
