package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/models"
)

// conditionFromRequest maps a validated request body onto the stored
// condition shape, applying the creation defaults.
func conditionFromRequest(tenant string, req *CreateConditionRequest) *models.AlertCondition {
	cond := &models.AlertCondition{
		TenantID:        tenant,
		ProjectID:       req.ProjectID,
		PolicyID:        req.PolicyID,
		Name:            req.Name,
		MetricName:      req.MetricName,
		Service:         req.Service,
		Operator:        models.Operator(req.Operator),
		Threshold:       req.Threshold,
		DurationMinutes: req.DurationMinutes,
		Severity:        models.Severity(req.Severity),
		IsEnabled:       true,
	}
	if cond.DurationMinutes == 0 {
		cond.DurationMinutes = 5
	}
	if req.IsEnabled != nil {
		cond.IsEnabled = *req.IsEnabled
	}
	return cond
}

// listConditionsHandler handles GET /api/v1/alert-conditions.
func (s *Server) listConditionsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return missingProjectID()
	}

	conditions, err := s.stores.Alerts.ListConditions(c.Request().Context(), tenantID(c), projectID)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, conditions, len(conditions))
}

// createConditionHandler handles POST /api/v1/alert-conditions.
func (s *Server) createConditionHandler(c *echo.Context) error {
	var req CreateConditionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if !models.Operator(req.Operator).Valid() {
		return invalidField("operator", "must be one of >, <, >=, <=, ==, !=")
	}

	cond, err := s.stores.Alerts.CreateCondition(c.Request().Context(), conditionFromRequest(tenantID(c), &req))
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusCreated, cond)
}

// getConditionHandler handles GET /api/v1/alert-conditions/:id.
func (s *Server) getConditionHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	cond, err := s.stores.Alerts.GetCondition(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, cond)
}

// updateConditionHandler handles PUT /api/v1/alert-conditions/:id.
// Full replacement: the body carries every mutable field.
func (s *Server) updateConditionHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req CreateConditionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if !models.Operator(req.Operator).Valid() {
		return invalidField("operator", "must be one of >, <, >=, <=, ==, !=")
	}

	cond := conditionFromRequest(tenantID(c), &req)
	cond.ID = id
	updated, err := s.stores.Alerts.UpdateCondition(c.Request().Context(), cond)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, updated)
}

// deleteConditionHandler handles DELETE /api/v1/alert-conditions/:id.
// Firing alerts for the condition resolve on the evaluator's next tick.
func (s *Server) deleteConditionHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := s.stores.Alerts.DeleteCondition(c.Request().Context(), tenantID(c), id); err != nil {
		return mapError(err)
	}
	return respondMessage(c, http.StatusOK, "alert condition deleted")
}

// listMutingRulesHandler handles GET /api/v1/muting-rules.
func (s *Server) listMutingRulesHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return missingProjectID()
	}

	rules, err := s.stores.Alerts.ListMutingRules(c.Request().Context(), tenantID(c), projectID)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, rules, len(rules))
}

// createMutingRuleHandler handles POST /api/v1/muting-rules.
func (s *Server) createMutingRuleHandler(c *echo.Context) error {
	var req CreateMutingRuleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	rule := &models.MutingRule{
		TenantID:  tenantID(c),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Matchers:  models.JSONMap(req.Matchers),
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		IsEnabled: true,
	}
	if req.IsEnabled != nil {
		rule.IsEnabled = *req.IsEnabled
	}

	created, err := s.stores.Alerts.CreateMutingRule(c.Request().Context(), rule)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusCreated, created)
}

// deleteMutingRuleHandler handles DELETE /api/v1/muting-rules/:id.
func (s *Server) deleteMutingRuleHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := s.stores.Alerts.DeleteMutingRule(c.Request().Context(), tenantID(c), id); err != nil {
		return mapError(err)
	}
	return respondMessage(c, http.StatusOK, "muting rule deleted")
}

// listAlertsHandler handles GET /api/v1/alerts. An optional ?status
// narrows to one lifecycle status.
func (s *Server) listAlertsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return missingProjectID()
	}

	var status models.AlertStatus
	if v := c.QueryParam("status"); v != "" {
		status = models.AlertStatus(v)
		switch status {
		case models.AlertFiring, models.AlertAcknowledged, models.AlertResolved:
		default:
			return invalidField("status", "must be one of firing, acknowledged, resolved")
		}
	}

	alerts, err := s.stores.Alerts.ListActiveAlerts(c.Request().Context(), tenantID(c), projectID, status)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, alerts, len(alerts))
}

// acknowledgeAlertHandler handles POST /api/v1/alerts/:id/acknowledge.
// Only a firing alert matches the update, so acknowledging a resolved
// or already-acknowledged alert reports not found.
func (s *Server) acknowledgeAlertHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	alert, err := s.stores.Alerts.AcknowledgeAlert(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusOK, alert)
}
