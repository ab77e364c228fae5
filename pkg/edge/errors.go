package edge

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// Error codes emitted by the edge. The envelope shape matches the
// control plane exactly so callers cannot tell which layer refused
// them.
const (
	codeUnauthorized     = "UNAUTHORIZED"
	codeResourceNotFound = "RESOURCE_NOT_FOUND"
	codeValidationError  = "VALIDATION_ERROR"
	codeRateLimited      = "RATE_LIMITED"
	codeBadGateway       = "BAD_GATEWAY"
	codeGatewayTimeout   = "GATEWAY_TIMEOUT"
	codeInternalError    = "INTERNAL_ERROR"
)

// errorResponse is the platform error envelope.
type errorResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

// edgeError carries a status and stable code to the envelope
// middleware.
type edgeError struct {
	status int
	code   string
	detail string
}

func (e *edgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.detail)
}

func fail(status int, code, detail string) *edgeError {
	return &edgeError{status: status, code: code, detail: detail}
}

// errorEnvelope renders every error leaving the handler chain as the
// platform envelope. Installed outside the rate limiter and token gate
// so their refusals take the same shape as backend ones.
func errorEnvelope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			status, body := translateError(err)
			if writeErr := c.JSON(status, body); writeErr != nil {
				slog.Warn("Failed to write edge error envelope", "error", writeErr)
			}
			return nil
		}
	}
}

// translateError folds edge failures and echo's own errors (unmatched
// routes, wrong methods) into the envelope.
func translateError(err error) (int, *errorResponse) {
	var ee *edgeError
	if errors.As(err, &ee) {
		return ee.status, &errorResponse{Status: "error", Detail: ee.detail, ErrorCode: ee.code}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		detail := fmt.Sprintf("%v", httpErr.Message)
		return httpErr.Code, &errorResponse{Status: "error", Detail: detail, ErrorCode: codeForStatus(httpErr.Code)}
	}

	slog.Error("Unhandled edge error", "error", err)
	return http.StatusInternalServerError, &errorResponse{
		Status:    "error",
		Detail:    "internal server error",
		ErrorCode: codeInternalError,
	}
}

// codeForStatus maps a bare HTTP status onto the error code
// enumeration.
func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return codeUnauthorized
	case http.StatusNotFound:
		return codeResourceNotFound
	case http.StatusTooManyRequests:
		return codeRateLimited
	case http.StatusBadGateway:
		return codeBadGateway
	case http.StatusGatewayTimeout:
		return codeGatewayTimeout
	}
	if status >= 400 && status < 500 {
		return codeValidationError
	}
	return codeInternalError
}
