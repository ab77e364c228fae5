package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stratushq/stratus/pkg/ai"
	"github.com/stratushq/stratus/pkg/incidents"
	"github.com/stratushq/stratus/pkg/ingest"
	"github.com/stratushq/stratus/pkg/store"
)

// Stable machine-readable error codes. Dashboard clients branch on
// these, never on detail text.
const (
	CodeMissingProjectID   = "MISSING_PROJECT_ID"
	CodeInvalidUUID        = "INVALID_UUID"
	CodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidFieldValue  = "INVALID_FIELD_VALUE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// apiError carries an HTTP status, a stable code and a client-safe
// detail string through the handler chain to the error envelope.
type apiError struct {
	Status int
	Code   string
	Detail string
}

func (e *apiError) Error() string {
	return e.Detail
}

// fail builds an apiError. Handlers return it directly for conditions
// they detect themselves; everything else goes through mapError.
func fail(status int, code, detail string) *apiError {
	return &apiError{Status: status, Code: code, Detail: detail}
}

// mapError translates service and store errors into the platform error
// envelope. Unrecognized errors become a redacted 500; this is the only
// place internals are logged for them.
func mapError(err error) *apiError {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return fail(http.StatusBadRequest, validationCode(validErr), validErr.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return fail(http.StatusNotFound, CodeResourceNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return fail(http.StatusConflict, CodeConflict, "resource already exists")
	}
	if errors.Is(err, store.ErrConcurrentModification) {
		return fail(http.StatusConflict, CodeConflict, "resource was modified concurrently, retry")
	}
	if errors.Is(err, incidents.ErrInvalidTransition) {
		return fail(http.StatusBadRequest, CodeInvalidFieldValue, err.Error())
	}
	if errors.Is(err, ai.ErrGenerationInFlight) {
		return fail(http.StatusConflict, CodeConflict, "hypothesis generation already in progress")
	}
	if errors.Is(err, ingest.ErrKeyUnknown) || errors.Is(err, ingest.ErrKeyInactive) || errors.Is(err, ingest.ErrKeyExpired) {
		return fail(http.StatusUnauthorized, CodeUnauthorized, "invalid API key")
	}
	if errors.Is(err, ingest.ErrScopeDenied) {
		return fail(http.StatusForbidden, CodeForbidden, "API key scopes do not cover this domain")
	}

	slog.Error("Unexpected error reached the API layer", "error", err)
	return fail(http.StatusInternalServerError, CodeInternalError, "internal server error")
}

// validationCode picks the most specific code a field failure supports.
func validationCode(ve *store.ValidationError) string {
	if ve.Field == "project_id" {
		return CodeMissingProjectID
	}
	return CodeValidationError
}

// missingProjectID is the shared failure for list endpoints that take
// project scope from the query string.
func missingProjectID() *apiError {
	return fail(http.StatusBadRequest, CodeMissingProjectID, "project_id query parameter is required")
}

// invalidField reports a field whose value failed validation.
func invalidField(field, reason string) *apiError {
	return fail(http.StatusBadRequest, CodeInvalidFieldValue, fmt.Sprintf("%s %s", field, reason))
}
