package edge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"

	echo "github.com/labstack/echo/v5"

	"github.com/stratushq/stratus/pkg/auth"
)

// newProxy builds the reverse proxy for the backend. Every outbound
// request carries the internal secret so backend routes behind the
// secret gate accept it.
func newProxy(backend *url.URL, internalSecret string, onError func(http.ResponseWriter, *http.Request, error)) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(backend)
			pr.SetXForwarded()
			if internalSecret != "" {
				pr.Out.Header.Set(auth.HeaderInternalSecret, internalSecret)
			}
		},
		ErrorHandler: onError,
	}
}

// proxyHandler forwards the request under the configured deadline.
// Backend responses stream back untouched, status codes and Set-Cookie
// headers included.
func (s *Server) proxyHandler(c *echo.Context) error {
	req := c.Request()
	ctx, cancel := context.WithTimeout(req.Context(), s.cfg.Edge.ProxyTimeout)
	defer cancel()
	s.proxy.ServeHTTP(c.Response(), req.WithContext(ctx))
	return nil
}

// wsProxyHandler forwards the WebSocket upgrade without a deadline.
// The gateway owns session liveness once the tunnel is up.
func (s *Server) wsProxyHandler(c *echo.Context) error {
	s.proxy.ServeHTTP(c.Response(), c.Request())
	return nil
}

// proxyError maps transport failures onto the gateway status pair: 504
// when the backend deadline expired, 502 for everything else.
func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// The client went away; there is nobody left to answer.
		return
	}

	status := http.StatusBadGateway
	code := codeBadGateway
	detail := "backend unreachable"

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		status = http.StatusGatewayTimeout
		code = codeGatewayTimeout
		detail = "backend timed out"
	}
	slog.Warn("Proxy request failed", "method", r.Method, "path", r.URL.Path, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := errorResponse{Status: "error", Detail: detail, ErrorCode: code}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		slog.Warn("Failed to write proxy error", "error", encErr)
	}
}
