package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/database"
)

// response is the standard success envelope for authenticated surfaces.
type response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Total   *int   `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
}

// errorResponse is the error envelope. ErrorCode is one of the Code*
// constants in errors.go.
type errorResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

// respond writes the success envelope around data.
func respond(c *echo.Context, status int, data any) error {
	return c.JSON(status, &response{Status: "ok", Data: data})
}

// respondList writes the success envelope around a collection with its
// total count. Total is the full result size, not the page size.
func respondList(c *echo.Context, data any, total int) error {
	return c.JSON(http.StatusOK, &response{Status: "ok", Data: data, Total: &total})
}

// respondMessage writes a data-free acknowledgement.
func respondMessage(c *echo.Context, status int, message string) error {
	return c.JSON(status, &response{Status: "ok", Message: message})
}

// IngestResponse is returned by POST /ingest/:domain.
type IngestResponse struct {
	Ingested int `json:"ingested"`
}

// HealthCheck is one subsystem entry in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database,omitempty"`
	Checks   map[string]HealthCheck `json:"checks"`
	Warnings []*Warning             `json:"warnings,omitempty"`
}

// ChannelResponse is a notification channel with its decrypted config,
// sensitive values masked.
type ChannelResponse struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	IsEnabled bool           `json:"is_enabled"`
}
