package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/auth"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// errorEnvelope converts every error leaving the handler chain into the
// platform error envelope. Installed outermost so middleware failures
// (auth, secret gate) render the same shape as handler failures.
func errorEnvelope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			apiErr := translateError(err)
			body := &errorResponse{
				Status:    "error",
				Detail:    apiErr.Detail,
				ErrorCode: apiErr.Code,
			}
			if writeErr := c.JSON(apiErr.Status, body); writeErr != nil {
				// Response already started; nothing useful left to do.
				slog.Warn("Failed to write error envelope", "error", writeErr)
			}
			return nil
		}
	}
}

// translateError folds echo's own errors (bind failures, unmatched
// routes) into the apiError space before the sentinel mapping runs.
func translateError(err error) *apiError {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		detail := fmt.Sprintf("%v", httpErr.Message)
		return fail(httpErr.Code, codeForStatus(httpErr.Code), detail)
	}
	return mapError(err)
}

// codeForStatus maps a bare HTTP status onto the error code enumeration.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidationError
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeResourceNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return CodeServiceUnavailable
	}
	if status >= 400 && status < 500 {
		return CodeValidationError
	}
	return CodeInternalError
}

// requireJWT gates a route group on a verified bearer token and stores
// the claims on the request context for tenant scoping.
func requireJWT(tokens *auth.TokenManager) echo.MiddlewareFunc {
	const prefix = "Bearer "
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) {
				return fail(http.StatusUnauthorized, CodeUnauthorized, "missing bearer token")
			}
			claims, err := tokens.Verify(strings.TrimPrefix(header, prefix))
			if err != nil {
				return fail(http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
			}
			ctx := withClaims(c.Request().Context(), claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// requireInternalSecret refuses requests that did not arrive through
// the edge router. An empty configured secret disables the gate, which
// is the single-process development setup.
func requireInternalSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		return func(c *echo.Context) error {
			got := c.Request().Header.Get(auth.HeaderInternalSecret)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return fail(http.StatusForbidden, CodeForbidden, "direct access to this route is not allowed")
			}
			return next(c)
		}
	}
}
