package api

import (
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and hands them to
// the ConnectionManager, which owns the handshake and the session from
// there. HandleConnection blocks until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return fail(http.StatusServiceUnavailable, CodeServiceUnavailable, "realtime gateway is not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		// Accept already wrote the failure response.
		return nil
	}

	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

// acceptOptions enforces the configured origin allowlist. With no
// origins configured (dev setups) any origin is accepted.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	var patterns []string
	for _, origin := range s.cfg.Server.CORSOrigins {
		// OriginPatterns match hosts, not full origin URLs.
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	if len(patterns) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
