package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// generateHypothesesHandler handles POST /api/v1/incidents/:id/hypotheses.
// Idempotent per incident: a second call while a generation is running
// returns 409, and a call after completion replays the stored result.
func (s *Server) generateHypothesesHandler(c *echo.Context) error {
	if s.engine == nil {
		return fail(http.StatusServiceUnavailable, CodeServiceUnavailable, "hypothesis generation is not available")
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	result, err := s.engine.GenerateHypotheses(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, result)
}

// batchHypothesesHandler handles POST /api/v1/hypotheses/batch.
// Failures are reported per incident; the batch itself always succeeds.
func (s *Server) batchHypothesesHandler(c *echo.Context) error {
	if s.engine == nil {
		return fail(http.StatusServiceUnavailable, CodeServiceUnavailable, "hypothesis generation is not available")
	}
	var req BatchHypothesesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	results, err := s.engine.GenerateBatch(c.Request().Context(), tenantID(c), req.IncidentIDs)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, results, len(results))
}
