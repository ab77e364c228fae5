package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/incidents"
	"github.com/stratushq/stratus/pkg/models"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// listIncidentsHandler handles GET /api/v1/incidents.
// Scope comes from ?project_id; state, severity and service filters are
// optional. Pagination via ?page and ?page_size.
func (s *Server) listIncidentsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return missingProjectID()
	}

	filters := models.IncidentFilters{
		Service: c.QueryParam("service"),
		Limit:   defaultPageSize,
	}

	if v := c.QueryParam("state"); v != "" {
		state := models.IncidentState(v)
		if !state.Valid() {
			return invalidField("state", "is not a known incident state")
		}
		filters.State = state
	}
	if v := c.QueryParam("severity"); v != "" {
		severity := models.Severity(v)
		if !severity.Valid() {
			return invalidField("severity", "is not a known severity")
		}
		filters.Severity = severity
	}

	page := 1
	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := c.QueryParam("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= maxPageSize {
			filters.Limit = ps
		}
	}
	filters.Offset = (page - 1) * filters.Limit

	list, total, err := s.stores.Incidents.List(c.Request().Context(), tenantID(c), projectID, filters)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, list, total)
}

// createIncidentHandler handles POST /api/v1/incidents.
func (s *Server) createIncidentHandler(c *echo.Context) error {
	var req CreateIncidentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	input := incidents.CreateInput{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Service:     req.Service,
		Severity:    models.Severity(req.Severity),
		Actor:       extractActor(c),
		Source:      "manual",
	}

	incident, err := s.incidents.Create(c.Request().Context(), tenantID(c), input)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusCreated, incident)
}

// getIncidentHandler handles GET /api/v1/incidents/:id.
func (s *Server) getIncidentHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	incident, err := s.stores.Incidents.Get(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, incident)
}

// transitionStateHandler handles PATCH /api/v1/incidents/:id/state.
// Illegal moves in the lifecycle graph come back as 400.
func (s *Server) transitionStateHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req TransitionStateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	incident, err := s.incidents.TransitionState(
		c.Request().Context(), tenantID(c), id,
		models.IncidentState(req.State), extractActor(c), req.Comment)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, incident)
}

// updateSeverityHandler handles PATCH /api/v1/incidents/:id/severity.
func (s *Server) updateSeverityHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req UpdateSeverityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	incident, err := s.incidents.UpdateSeverity(
		c.Request().Context(), tenantID(c), id,
		models.Severity(req.Severity), extractActor(c), req.Comment)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, incident)
}

// addCommentHandler handles POST /api/v1/incidents/:id/comments.
func (s *Server) addCommentHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req AddCommentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	activity, err := s.incidents.AddComment(c.Request().Context(), tenantID(c), id, extractActor(c), req.Comment)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusCreated, activity)
}

// listActivitiesHandler handles GET /api/v1/incidents/:id/activities.
func (s *Server) listActivitiesHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	tenant := tenantID(c)
	if _, err := s.stores.Incidents.Get(ctx, tenant, id); err != nil {
		return mapError(err)
	}
	activities, err := s.stores.Incidents.ListActivities(ctx, tenant, id)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, activities, len(activities))
}

// workflowHandler handles GET /api/v1/incidents/:id/workflow.
// Returns the analysis steps in workflow order.
func (s *Server) workflowHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	tenant := tenantID(c)
	if _, err := s.stores.Incidents.Get(ctx, tenant, id); err != nil {
		return mapError(err)
	}
	steps, err := s.stores.Incidents.ListSteps(ctx, tenant, id)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, steps, len(steps))
}

// listHypothesesHandler handles GET /api/v1/incidents/:id/hypotheses.
func (s *Server) listHypothesesHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	tenant := tenantID(c)
	if _, err := s.stores.Incidents.Get(ctx, tenant, id); err != nil {
		return mapError(err)
	}
	hypotheses, err := s.stores.Incidents.ListHypotheses(ctx, tenant, id)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, hypotheses, len(hypotheses))
}
