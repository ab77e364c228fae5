package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/models"
)

// listProjectsHandler handles GET /api/v1/projects.
func (s *Server) listProjectsHandler(c *echo.Context) error {
	projects, err := s.stores.Tenants.ListProjects(c.Request().Context(), tenantID(c))
	if err != nil {
		return mapError(err)
	}
	return respondList(c, projects, len(projects))
}

// createProjectHandler handles POST /api/v1/projects.
func (s *Server) createProjectHandler(c *echo.Context) error {
	var req CreateProjectRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	project, err := s.stores.Tenants.CreateProject(c.Request().Context(), tenantID(c), req.Name, req.Slug)
	if err != nil {
		return mapError(err)
	}

	// Best effort: a project without bootstrap conditions is still
	// usable, and the watcher reseed will catch it later.
	if s.seeder != nil {
		if err := s.seeder.SeedProject(c.Request().Context(), project); err != nil {
			slog.Warn("Seeding new project failed", "project_id", project.ID, "error", err)
		}
	}
	return respond(c, http.StatusCreated, project)
}

// listAPIKeysHandler handles GET /api/v1/projects/:id/api-keys.
// Key hashes never leave the store; the listing carries prefixes only.
func (s *Server) listAPIKeysHandler(c *echo.Context) error {
	projectID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	tenant := tenantID(c)
	if _, err := s.stores.Tenants.GetProject(ctx, tenant, projectID); err != nil {
		return mapError(err)
	}
	keys, err := s.stores.APIKeys.ListByProject(ctx, tenant, projectID)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, keys, len(keys))
}

// createAPIKeyHandler handles POST /api/v1/projects/:id/api-keys.
// The raw key appears in this response and nowhere else.
func (s *Server) createAPIKeyHandler(c *echo.Context) error {
	projectID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req CreateAPIKeyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	tenant := tenantID(c)
	if _, err := s.stores.Tenants.GetProject(ctx, tenant, projectID); err != nil {
		return mapError(err)
	}

	gen, err := auth.GenerateAPIKey()
	if err != nil {
		return mapError(err)
	}

	created, err := s.stores.APIKeys.Create(ctx, &models.APIKey{
		TenantID:  tenant,
		ProjectID: projectID,
		Name:      req.Name,
		Prefix:    gen.Prefix,
		KeyHash:   gen.Hash,
		Scopes:    models.StringList(req.Scopes),
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusCreated, &models.IssuedAPIKey{APIKey: created, RawKey: gen.Raw})
}

// deactivateAPIKeyHandler handles DELETE /api/v1/api-keys/:id.
// The cache entry is dropped so ingest rejects the key immediately
// instead of after the TTL.
func (s *Server) deactivateAPIKeyHandler(c *echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	key, err := s.stores.APIKeys.Deactivate(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return mapError(err)
	}
	if s.kv != nil {
		s.kv.InvalidateAPIKey(c.Request().Context(), key.KeyHash)
	}
	return respondMessage(c, http.StatusOK, "api key deactivated")
}
