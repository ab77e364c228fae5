package edge

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"
)

// Rate-limit headers. Attached to every response so clients can pace
// themselves before hitting the limit.
const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

// corsHeaders answers cross-origin requests for the configured origins
// and short-circuits preflights before the token gate and rate limiter
// see them.
func corsHeaders(origins []string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Add("Vary", "Origin")

			origin := c.Request().Header.Get("Origin")
			if origin == "" || !allowed[origin] {
				return next(c)
			}

			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			if c.Request().Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				c.Response().WriteHeader(http.StatusNoContent)
				return nil
			}
			return next(c)
		}
	}
}

// rateLimit enforces the per-client token bucket. Authenticated
// clients are keyed by user id so one user cannot starve others behind
// the same NAT; everything else is keyed by source address.
func (s *Server) rateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			d := s.limiter.admit(s.limitKey(c), time.Now())

			h := c.Response().Header()
			h.Set(headerRateLimit, strconv.Itoa(s.cfg.Edge.Burst))
			h.Set(headerRateRemaining, strconv.Itoa(d.remaining))
			h.Set(headerRateReset, strconv.FormatInt(d.resetAt.Unix(), 10))

			if !d.allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.retryAfter)))
				return fail(http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// retryAfterSeconds rounds the wait up to whole seconds, never telling
// a client to retry immediately.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// limitKey prefers the authenticated user identity over the network
// address. The token is verified here too; a forged one cannot choose
// its own bucket.
func (s *Server) limitKey(c *echo.Context) string {
	const prefix = "Bearer "
	if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, prefix) {
		if claims, err := s.tokens.Verify(strings.TrimPrefix(header, prefix)); err == nil {
			return "user:" + claims.UserID
		}
	}
	return "ip:" + clientIP(c.Request())
}

// clientIP returns the requester's address. The first X-Forwarded-For
// hop is trusted because the platform load balancer sets it; direct
// exposure falls back to the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireJWT gates the dashboard surface. Claims are not forwarded;
// the backend verifies the same token again and owns tenant scoping.
func (s *Server) requireJWT() echo.MiddlewareFunc {
	const prefix = "Bearer "
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) {
				return fail(http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			}
			if _, err := s.tokens.Verify(strings.TrimPrefix(header, prefix)); err != nil {
				return fail(http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
			}
			return next(c)
		}
	}
}
