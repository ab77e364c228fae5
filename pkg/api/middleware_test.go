package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/auth"
)

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(securityHeaders())
	e.GET("/test", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Permissions-Policy"))
}

func TestErrorEnvelope(t *testing.T) {
	e := echo.New()
	e.Use(errorEnvelope())
	e.GET("/api-error", func(c *echo.Context) error {
		return fail(http.StatusNotFound, CodeResourceNotFound, "no such thing")
	})
	e.GET("/echo-error", func(c *echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad input")
	})
	e.GET("/plain-error", func(c *echo.Context) error {
		return errors.New("database exploded")
	})
	e.GET("/fine", func(c *echo.Context) error {
		return c.String(http.StatusOK, "fine")
	})

	t.Run("apiError renders the envelope", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-error", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, CodeResourceNotFound, resp.ErrorCode)
		assert.Equal(t, "no such thing", resp.Detail)
	})

	t.Run("echo HTTPError is folded in", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo-error", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeValidationError, resp.ErrorCode)
	})

	t.Run("unknown error becomes a redacted 500", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plain-error", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeInternalError, resp.ErrorCode)
		assert.Equal(t, "internal server error", resp.Detail)
		assert.NotContains(t, rec.Body.String(), "exploded")
	})

	t.Run("success responses untouched", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fine", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "fine", rec.Body.String())
	})
}

func TestRequireJWT(t *testing.T) {
	tokens := auth.NewTokenManager([]byte(testSigningKey), time.Hour)

	e := echo.New()
	e.Use(errorEnvelope())
	g := e.Group("/api", requireJWT(tokens))
	g.GET("/whoami", func(c *echo.Context) error {
		return c.String(http.StatusOK, tenantID(c))
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/whoami", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeUnauthorized, resp.ErrorCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another key", func(t *testing.T) {
		other := auth.NewTokenManager([]byte("a-completely-different-key-here!"), time.Hour)
		token, err := other.Issue("user-1", "tenant-1", "", "")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token reaches the handler with claims", func(t *testing.T) {
		token, err := tokens.Issue("user-1", "tenant-42", "alice@example.com", "admin")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tenant-42", rec.Body.String())
	})
}

func TestRequireInternalSecret(t *testing.T) {
	build := func(secret string) *echo.Echo {
		e := echo.New()
		e.Use(errorEnvelope())
		g := e.Group("/internal", requireInternalSecret(secret))
		g.GET("/ping", func(c *echo.Context) error {
			return c.String(http.StatusOK, "pong")
		})
		return e
	}

	t.Run("missing secret refused", func(t *testing.T) {
		e := build("s3cret")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/ping", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeForbidden, resp.ErrorCode)
	})

	t.Run("wrong secret refused", func(t *testing.T) {
		e := build("s3cret")
		req := httptest.NewRequest(http.MethodGet, "/internal/ping", nil)
		req.Header.Set(auth.HeaderInternalSecret, "guess")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("matching secret passes", func(t *testing.T) {
		e := build("s3cret")
		req := httptest.NewRequest(http.MethodGet, "/internal/ping", nil)
		req.Header.Set(auth.HeaderInternalSecret, "s3cret")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty configured secret disables the gate", func(t *testing.T) {
		e := build("")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/ping", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
