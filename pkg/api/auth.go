package api

import (
	"context"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/auth"
)

type claimsContextKey struct{}

// withClaims stores verified token claims on the request context.
func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// claimsFrom returns the verified claims of the current request, or nil
// outside the authenticated group.
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims
}

// tenantID returns the tenant scope of the current request. Empty only
// when a handler is reached without the JWT middleware, which is a
// wiring bug surfaced as 401 by the caller.
func tenantID(c *echo.Context) string {
	if claims := claimsFrom(c.Request().Context()); claims != nil {
		return claims.TenantID
	}
	return ""
}

// extractActor resolves who performed the request, for activity rows
// and audit fields.
// Priority: token email > token user id > X-Forwarded-User (oauth2-proxy) >
// X-Forwarded-Email (oauth2-proxy) > "api-client"
func extractActor(c *echo.Context) string {
	if claims := claimsFrom(c.Request().Context()); claims != nil {
		if claims.Email != "" {
			return claims.Email
		}
		if claims.UserID != "" {
			return claims.UserID
		}
	}
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}
