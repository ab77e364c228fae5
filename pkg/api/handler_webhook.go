package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/models"
)

// githubEvent is the slice of a GitHub webhook payload this service
// reads. Everything else in the delivery is ignored.
type githubEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deployment struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"deployment"`
	WorkflowRun struct {
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
	} `json:"workflow_run"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// azureEvent is the slice of an Azure DevOps service-hook payload this
// service reads.
type azureEvent struct {
	EventType string `json:"eventType"`
	Resource  struct {
		SourceBranch  string `json:"sourceBranch"`
		SourceVersion string `json:"sourceVersion"`
		Result        string `json:"result"`
		Definition    struct {
			Name string `json:"name"`
		} `json:"definition"`
		RequestedFor struct {
			DisplayName string `json:"displayName"`
		} `json:"requestedFor"`
	} `json:"resource"`
}

// githubWebhookHandler handles POST /webhooks/:connection_id/github.
// The delivery authenticates itself with X-Hub-Signature-256, an HMAC
// of the raw body under the connection's shared secret. deployment,
// workflow_run and push events become Deployment rows; every other
// event type is acknowledged and dropped.
func (s *Server) githubWebhookHandler(c *echo.Context) error {
	conn, secret, err := s.webhookConnection(c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(http.StatusBadRequest, CodeValidationError, "failed to read request body")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(c.Request().Header.Get("X-Hub-Signature-256"))) {
		return fail(http.StatusUnauthorized, CodeUnauthorized, "webhook signature mismatch")
	}

	var payload githubEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return fail(http.StatusBadRequest, CodeValidationError, "malformed webhook payload")
	}

	eventType := c.Request().Header.Get("X-GitHub-Event")
	dep := &models.Deployment{
		TenantID:     conn.TenantID,
		ProjectID:    conn.ProjectID,
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		EventType:    eventType,
		ServiceName:  optional(payload.Repository.Name),
		Actor:        optional(payload.Sender.Login),
	}
	switch eventType {
	case "deployment":
		dep.Ref = optional(payload.Deployment.Ref)
		dep.SHA = optional(payload.Deployment.SHA)
	case "workflow_run":
		dep.Ref = optional(payload.WorkflowRun.HeadBranch)
		dep.SHA = optional(payload.WorkflowRun.HeadSHA)
		status := payload.WorkflowRun.Conclusion
		if status == "" {
			status = payload.WorkflowRun.Status
		}
		dep.Status = optional(status)
	case "push":
		dep.Ref = optional(payload.Ref)
		dep.SHA = optional(payload.After)
		if payload.Pusher.Name != "" {
			dep.Actor = optional(payload.Pusher.Name)
		}
	default:
		return respondMessage(c, http.StatusAccepted, "event ignored")
	}

	if _, err := s.stores.Deployments.InsertDeployment(c.Request().Context(), dep); err != nil {
		return mapError(err)
	}
	return respondMessage(c, http.StatusAccepted, "accepted")
}

// azureWebhookHandler handles POST /webhooks/:connection_id/azure-devops.
// Azure service hooks carry the shared secret verbatim in
// X-Webhook-Secret; only build.complete events become Deployment rows.
func (s *Server) azureWebhookHandler(c *echo.Context) error {
	conn, secret, err := s.webhookConnection(c)
	if err != nil {
		return err
	}

	got := c.Request().Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return fail(http.StatusUnauthorized, CodeUnauthorized, "webhook secret mismatch")
	}

	var payload azureEvent
	if err := c.Bind(&payload); err != nil {
		return fail(http.StatusBadRequest, CodeValidationError, "malformed webhook payload")
	}
	if payload.EventType != "build.complete" {
		return respondMessage(c, http.StatusAccepted, "event ignored")
	}

	dep := &models.Deployment{
		TenantID:     conn.TenantID,
		ProjectID:    conn.ProjectID,
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		EventType:    payload.EventType,
		ServiceName:  optional(payload.Resource.Definition.Name),
		Ref:          optional(payload.Resource.SourceBranch),
		SHA:          optional(payload.Resource.SourceVersion),
		Status:       optional(payload.Resource.Result),
		Actor:        optional(payload.Resource.RequestedFor.DisplayName),
	}
	if _, err := s.stores.Deployments.InsertDeployment(c.Request().Context(), dep); err != nil {
		return mapError(err)
	}
	return respondMessage(c, http.StatusAccepted, "accepted")
}

// webhookConnection resolves the connection named in the path and
// decrypts its shared secret.
func (s *Server) webhookConnection(c *echo.Context) (*models.WebhookConnection, string, error) {
	id, err := pathID(c, "connection_id")
	if err != nil {
		return nil, "", err
	}
	if s.cipher == nil {
		return nil, "", errEncryptionUnavailable()
	}

	conn, err := s.stores.Deployments.GetConnection(c.Request().Context(), id)
	if err != nil {
		return nil, "", mapError(err)
	}
	secret, err := s.cipher.Decrypt(conn.Secret)
	if err != nil {
		return nil, "", mapError(err)
	}
	return conn, secret, nil
}

// createConnectionHandler handles POST /api/v1/webhook-connections.
// The shared secret is encrypted before storage and never returned.
func (s *Server) createConnectionHandler(c *echo.Context) error {
	if s.cipher == nil {
		return errEncryptionUnavailable()
	}
	var req CreateConnectionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	encrypted, err := s.cipher.Encrypt(req.Secret)
	if err != nil {
		return mapError(err)
	}
	conn, err := s.stores.Deployments.CreateConnection(c.Request().Context(), &models.WebhookConnection{
		TenantID:  tenantID(c),
		ProjectID: req.ProjectID,
		Provider:  req.Provider,
		Secret:    encrypted,
	})
	if err != nil {
		return mapError(err)
	}
	return respond(c, http.StatusCreated, conn)
}

// listDeploymentsHandler handles GET /api/v1/deployments.
func (s *Server) listDeploymentsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return missingProjectID()
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			return invalidField("limit", "must be an integer between 1 and 200")
		}
		limit = n
	}

	deps, err := s.stores.Deployments.ListDeployments(c.Request().Context(), tenantID(c), projectID, limit)
	if err != nil {
		return mapError(err)
	}
	return respondList(c, deps, len(deps))
}

// optional returns nil for the empty string so absent payload fields
// store as NULL.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
