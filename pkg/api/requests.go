package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// validate is the shared request validator. Field names in failure
// messages come from json tags so clients see the wire names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindAndValidate binds the JSON body into req and runs struct
// validation. Every failure is normalized to a 400 with a stable code.
func bindAndValidate(c *echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fail(http.StatusBadRequest, CodeValidationError, "malformed request body")
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return fail(http.StatusBadRequest, CodeValidationError, "request validation failed")
		}
		return fieldFailure(fieldErrs[0])
	}
	return nil
}

// fieldFailure maps the first validator failure to the envelope codes.
func fieldFailure(fe validator.FieldError) *apiError {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "project_id" {
			return fail(http.StatusBadRequest, CodeMissingProjectID, "project_id is required")
		}
		return fail(http.StatusBadRequest, CodeValidationError, fmt.Sprintf("%s is required", fe.Field()))
	case "uuid4":
		return fail(http.StatusBadRequest, CodeInvalidUUID, fmt.Sprintf("%s must be a valid UUID", fe.Field()))
	case "gtfield":
		return invalidField(fe.Field(), "must be after "+fe.Param())
	default:
		return invalidField(fe.Field(), "is invalid")
	}
}

// pathID returns the named path parameter, validated as a UUID so
// malformed ids never reach the store as cast errors.
func pathID(c *echo.Context, name string) (string, error) {
	raw := c.Param(name)
	if raw == "" {
		return "", fail(http.StatusBadRequest, CodeValidationError, name+" path parameter is required")
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fail(http.StatusBadRequest, CodeInvalidUUID, name+" must be a valid UUID")
	}
	return raw, nil
}

// CreateIncidentRequest is the body for POST /api/v1/incidents.
type CreateIncidentRequest struct {
	ProjectID   string `json:"project_id" validate:"required,uuid4"`
	Title       string `json:"title" validate:"required,max=500"`
	Description string `json:"description" validate:"max=10000"`
	Service     string `json:"service" validate:"max=200"`
	Severity    string `json:"severity" validate:"omitempty,oneof=critical high medium low"`
}

// TransitionStateRequest is the body for PATCH /api/v1/incidents/:id/state.
type TransitionStateRequest struct {
	State   string  `json:"state" validate:"required,oneof=detected investigating acknowledged mitigated resolved closed"`
	Comment *string `json:"comment,omitempty"`
}

// UpdateSeverityRequest is the body for PATCH /api/v1/incidents/:id/severity.
type UpdateSeverityRequest struct {
	Severity string  `json:"severity" validate:"required,oneof=critical high medium low"`
	Comment  *string `json:"comment,omitempty"`
}

// AddCommentRequest is the body for POST /api/v1/incidents/:id/comments.
type AddCommentRequest struct {
	Comment string `json:"comment" validate:"required,max=10000"`
}

// BatchHypothesesRequest is the body for POST /api/v1/hypotheses/batch.
type BatchHypothesesRequest struct {
	IncidentIDs []string `json:"incident_ids" validate:"required,min=1,max=10,dive,uuid4"`
}

// CreateConditionRequest is the body for POST /api/v1/alert-conditions
// and PUT /api/v1/alert-conditions/:id.
type CreateConditionRequest struct {
	ProjectID       string  `json:"project_id" validate:"required,uuid4"`
	PolicyID        *string `json:"policy_id,omitempty" validate:"omitempty,uuid4"`
	Name            string  `json:"name" validate:"required,max=200"`
	MetricName      string  `json:"metric_name" validate:"required,max=200"`
	Service         string  `json:"service" validate:"max=200"`
	Operator        string  `json:"operator" validate:"required"`
	Threshold       float64 `json:"threshold"`
	DurationMinutes int     `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	Severity        string  `json:"severity" validate:"required,oneof=critical high medium low"`
	IsEnabled       *bool   `json:"is_enabled,omitempty"`
}

// CreateMutingRuleRequest is the body for POST /api/v1/muting-rules.
type CreateMutingRuleRequest struct {
	ProjectID string         `json:"project_id" validate:"required,uuid4"`
	Name      string         `json:"name" validate:"required,max=200"`
	Matchers  map[string]any `json:"matchers" validate:"required,min=1"`
	StartsAt  time.Time      `json:"starts_at" validate:"required"`
	EndsAt    time.Time      `json:"ends_at" validate:"required,gtfield=StartsAt"`
	IsEnabled *bool          `json:"is_enabled,omitempty"`
}

// CreateAPIKeyRequest is the body for POST /api/v1/projects/:id/api-keys.
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" validate:"required,max=100"`
	Scopes    []string   `json:"scopes" validate:"required,min=1,dive,oneof=metrics traces errors logs infrastructure browser vulnerabilities *"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateProjectRequest is the body for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Slug string `json:"slug" validate:"required,max=100"`
}

// CreateChannelRequest is the body for POST /api/v1/channels.
type CreateChannelRequest struct {
	ProjectID string         `json:"project_id" validate:"required,uuid4"`
	Name      string         `json:"name" validate:"required,max=200"`
	Type      string         `json:"type" validate:"required,oneof=slack email pagerduty teams webhook"`
	Config    map[string]any `json:"config" validate:"required,min=1"`
	IsEnabled *bool          `json:"is_enabled,omitempty"`
}

// CreatePolicyRequest is the body for POST /api/v1/policies.
type CreatePolicyRequest struct {
	ProjectID string `json:"project_id" validate:"required,uuid4"`
	Name      string `json:"name" validate:"required,max=200"`
}

// CreateConnectionRequest is the body for POST /api/v1/webhook-connections.
type CreateConnectionRequest struct {
	ProjectID string `json:"project_id" validate:"required,uuid4"`
	Provider  string `json:"provider" validate:"required,oneof=github azure-devops"`
	Secret    string `json:"secret" validate:"required,min=16,max=500"`
}
