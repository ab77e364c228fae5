// Package api exposes the control plane over HTTP: agent ingest, the
// authenticated dashboard surface, CI webhooks, health and the
// WebSocket upgrade. Handlers stay thin; domain behavior lives in the
// service packages and errors leave through a single envelope.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/ai"
	"github.com/stratushq/stratus/pkg/alerting"
	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/cache"
	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/crypto"
	"github.com/stratushq/stratus/pkg/database"
	"github.com/stratushq/stratus/pkg/gateway"
	"github.com/stratushq/stratus/pkg/incidents"
	"github.com/stratushq/stratus/pkg/ingest"
	"github.com/stratushq/stratus/pkg/store"
)

// Server is the control plane HTTP server.
type Server struct {
	cfg       *config.Config
	db        *database.Client
	stores    *store.Store
	kv        *cache.Client
	tokens    *auth.TokenManager
	incidents *incidents.Service
	engine    *ai.Engine

	connManager *gateway.ConnectionManager
	evaluator   *alerting.Evaluator
	seeder      *alerting.Seeder
	ingestAuth  *ingest.Authenticator
	ingestSvc   *ingest.Service
	cipher      *crypto.Cipher
	warnings    *Warnings

	echo    *echo.Echo
	httpSrv *http.Server
}

// NewServer creates the API server. Optional collaborators are wired
// through Set* methods before Start; ValidateWiring catches omissions.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	stores *store.Store,
	kv *cache.Client,
	tokens *auth.TokenManager,
	incidentSvc *incidents.Service,
	engine *ai.Engine,
	connManager *gateway.ConnectionManager,
) *Server {
	s := &Server{
		cfg:         cfg,
		db:          db,
		stores:      stores,
		kv:          kv,
		tokens:      tokens,
		incidents:   incidentSvc,
		engine:      engine,
		connManager: connManager,
		warnings:    NewWarnings(),
	}
	s.echo = s.buildRouter()
	return s
}

// SetEvaluator wires the alert evaluator for health reporting.
func (s *Server) SetEvaluator(e *alerting.Evaluator) {
	s.evaluator = e
}

// SetSeeder wires the bootstrap seeder so new projects get the default
// alert conditions at creation instead of waiting for a reseed.
func (s *Server) SetSeeder(sd *alerting.Seeder) {
	s.seeder = sd
}

// SetIngest wires the agent ingest plane.
func (s *Server) SetIngest(authn *ingest.Authenticator, svc *ingest.Service) {
	s.ingestAuth = authn
	s.ingestSvc = svc
}

// SetCipher wires the encryption used for channel configs and webhook
// secrets. A nil cipher disables those surfaces with 503 responses.
func (s *Server) SetCipher(c *crypto.Cipher) {
	s.cipher = c
}

// SetWarnings replaces the warning registry, letting main share one
// instance with the startup checks.
func (s *Server) SetWarnings(w *Warnings) {
	if w != nil {
		s.warnings = w
	}
}

// ValidateWiring reports missing collaborators that Start would
// otherwise only reveal as runtime 503s.
func (s *Server) ValidateWiring() error {
	if s.ingestAuth == nil || s.ingestSvc == nil {
		return fmt.Errorf("api: ingest plane not wired, call SetIngest")
	}
	if s.tokens == nil {
		return fmt.Errorf("api: token manager is nil")
	}
	return nil
}

// buildRouter assembles the echo instance and the full route table.
func (s *Server) buildRouter() *echo.Echo {
	e := echo.New()

	e.Use(securityHeaders())
	e.Use(errorEnvelope())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	// Agent ingest. Reached through the edge router; the secret gate
	// refuses direct exposure when a secret is configured.
	ing := e.Group("/ingest", requireInternalSecret(s.cfg.Auth.InternalSecret))
	ing.POST("/:domain", s.ingestHandler)

	// CI webhooks authenticate with per-connection signatures instead
	// of user tokens.
	hooks := e.Group("/webhooks")
	hooks.POST("/:connection_id/github", s.githubWebhookHandler)
	hooks.POST("/:connection_id/azure-devops", s.azureWebhookHandler)

	v1 := e.Group("/api/v1", requireJWT(s.tokens))

	v1.GET("/incidents", s.listIncidentsHandler)
	v1.POST("/incidents", s.createIncidentHandler)
	v1.GET("/incidents/:id", s.getIncidentHandler)
	v1.PATCH("/incidents/:id/state", s.transitionStateHandler)
	v1.PATCH("/incidents/:id/severity", s.updateSeverityHandler)
	v1.POST("/incidents/:id/comments", s.addCommentHandler)
	v1.GET("/incidents/:id/activities", s.listActivitiesHandler)
	v1.GET("/incidents/:id/workflow", s.workflowHandler)
	v1.GET("/incidents/:id/hypotheses", s.listHypothesesHandler)
	v1.POST("/incidents/:id/hypotheses", s.generateHypothesesHandler)
	v1.POST("/hypotheses/batch", s.batchHypothesesHandler)

	v1.GET("/alert-conditions", s.listConditionsHandler)
	v1.POST("/alert-conditions", s.createConditionHandler)
	v1.GET("/alert-conditions/:id", s.getConditionHandler)
	v1.PUT("/alert-conditions/:id", s.updateConditionHandler)
	v1.DELETE("/alert-conditions/:id", s.deleteConditionHandler)

	v1.GET("/muting-rules", s.listMutingRulesHandler)
	v1.POST("/muting-rules", s.createMutingRuleHandler)
	v1.DELETE("/muting-rules/:id", s.deleteMutingRuleHandler)

	v1.GET("/alerts", s.listAlertsHandler)
	v1.POST("/alerts/:id/acknowledge", s.acknowledgeAlertHandler)

	v1.GET("/projects", s.listProjectsHandler)
	v1.POST("/projects", s.createProjectHandler)
	v1.GET("/projects/:id/api-keys", s.listAPIKeysHandler)
	v1.POST("/projects/:id/api-keys", s.createAPIKeyHandler)
	v1.DELETE("/api-keys/:id", s.deactivateAPIKeyHandler)

	v1.GET("/channels", s.listChannelsHandler)
	v1.POST("/channels", s.createChannelHandler)
	v1.GET("/policies", s.listPoliciesHandler)
	v1.POST("/policies", s.createPolicyHandler)
	v1.POST("/policies/:id/channels/:channel_id", s.bindChannelHandler)

	v1.POST("/webhook-connections", s.createConnectionHandler)
	v1.GET("/deployments", s.listDeploymentsHandler)

	v1.GET("/services", s.listServicesHandler)
	v1.GET("/metrics/services", s.serviceMetricsHandler)

	return e
}

// Start serves on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpSrv = s.newHTTPServer()
	s.httpSrv.Addr = addr
	return s.httpSrv.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests use it to
// bind a random port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpSrv = s.newHTTPServer()
	return s.httpSrv.Serve(ln)
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
