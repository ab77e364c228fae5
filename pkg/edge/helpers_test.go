package edge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/config"
)

const (
	testSigningKey     = "test-signing-key-32-bytes-long!!"
	testInternalSecret = "internal-test-secret"
	testOrigin         = "https://app.stratus.example"
)

// recordingBackend stands in for the control plane, keeping every
// request it sees so tests can assert on what crossed the proxy.
type recordingBackend struct {
	mu      sync.Mutex
	reqs    []recordedRequest
	handler http.HandlerFunc
}

type recordedRequest struct {
	method string
	path   string
	header http.Header
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.reqs = append(b.reqs, recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		header: r.Header.Clone(),
	})
	b.mu.Unlock()

	if b.handler != nil {
		b.handler(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok","data":null}`))
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reqs)
}

func (b *recordingBackend) last(t *testing.T) recordedRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.reqs, "backend saw no requests")
	return b.reqs[len(b.reqs)-1]
}

// edgeEnv is an edge router in front of a recording backend, served
// in-memory through the echo handler so requests cross every
// middleware.
type edgeEnv struct {
	backend *recordingBackend
	server  *Server
	tokens  *auth.TokenManager
}

// newEdgeEnv builds the fixture. backendHandler may be nil for a
// generic 200 envelope; mutate may adjust the config (including
// pointing BackendURL somewhere else entirely) before the server is
// built.
func newEdgeEnv(t *testing.T, backendHandler http.HandlerFunc, mutate func(*config.Config)) *edgeEnv {
	t.Helper()

	backend := &recordingBackend{handler: backendHandler}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	tokens := auth.NewTokenManager([]byte(testSigningKey), time.Hour)
	cfg := &config.Config{
		Server: config.ServerConfig{CORSOrigins: []string{testOrigin}},
		Auth:   config.AuthConfig{JWTSigningKey: []byte(testSigningKey), TokenTTL: time.Hour, InternalSecret: testInternalSecret},
		Edge: config.EdgeConfig{
			BackendURL:    backendSrv.URL,
			RatePerSecond: 50,
			Burst:         100,
			ProxyTimeout:  2 * time.Second,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(cfg, tokens)
	require.NoError(t, err)

	return &edgeEnv{backend: backend, server: srv, tokens: tokens}
}

// request serves one HTTP request through the full edge middleware
// chain. A non-nil body is JSON-encoded. headers may be nil.
func (env *edgeEnv) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)
	return rec
}

// issueToken signs a user token the edge accepts.
func (env *edgeEnv) issueToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := env.tokens.Issue(userID, "tenant-1", userID+"@acme.test", "admin")
	require.NoError(t, err)
	return token
}

// decodeError unmarshals the error envelope.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Status)
	return resp
}
