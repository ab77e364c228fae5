// Package edge is the traffic front door. It terminates external
// requests, applies CORS and per-client rate limits, verifies user
// tokens for the dashboard surface and proxies everything else
// unchanged to the control plane, stamping the internal secret so
// backend routes can refuse traffic that did not come through here.
package edge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/config"
)

// Server is the edge router.
type Server struct {
	cfg     *config.Config
	tokens  *auth.TokenManager
	limiter *visitors
	proxy   *httputil.ReverseProxy

	echo    *echo.Echo
	httpSrv *http.Server
}

// NewServer creates the edge router in front of the configured
// backend.
func NewServer(cfg *config.Config, tokens *auth.TokenManager) (*Server, error) {
	backend, err := url.Parse(cfg.Edge.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend URL %q: %w", cfg.Edge.BackendURL, err)
	}
	if backend.Scheme == "" || backend.Host == "" {
		return nil, fmt.Errorf("backend URL %q must carry a scheme and host", cfg.Edge.BackendURL)
	}

	s := &Server{
		cfg:     cfg,
		tokens:  tokens,
		limiter: newVisitors(rate.Limit(cfg.Edge.RatePerSecond), cfg.Edge.Burst),
	}
	s.proxy = newProxy(backend, cfg.Auth.InternalSecret, s.proxyError)
	s.echo = s.buildRouter()
	return s, nil
}

// buildRouter assembles the edge route table. Only known surfaces are
// forwarded; a request for anything else never reaches the backend.
func (s *Server) buildRouter() *echo.Echo {
	e := echo.New()

	e.Use(corsHeaders(s.cfg.Server.CORSOrigins))
	e.Use(errorEnvelope())
	e.Use(s.rateLimit())

	e.GET("/health", s.proxyHandler)

	// The gateway authenticates inside the socket, after the upgrade,
	// so the edge forwards /ws without a token check. The proxy
	// deadline is skipped too; it would cut long-lived sessions off.
	e.GET("/ws", s.wsProxyHandler)

	// Agents authenticate with API keys and CI systems with delivery
	// signatures, both checked by the backend.
	e.POST("/ingest/*", s.proxyHandler)
	e.POST("/webhooks/*", s.proxyHandler)

	v1 := e.Group("/api/v1", s.requireJWT())
	v1.GET("/*", s.proxyHandler)
	v1.POST("/*", s.proxyHandler)
	v1.PUT("/*", s.proxyHandler)
	v1.PATCH("/*", s.proxyHandler)
	v1.DELETE("/*", s.proxyHandler)

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
