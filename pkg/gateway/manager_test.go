package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/models"
)

// mockCatchupQuerier implements CatchupQuerier for tests, enforcing the
// same tenant/channel/cursor scoping as the real store.
type mockCatchupQuerier struct {
	events []*models.Event
	err    error
}

func (m *mockCatchupQuerier) ListSince(_ context.Context, tenantID, channel string, sinceID int64, limit int) ([]*models.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []*models.Event{}
	for _, evt := range m.events {
		if evt.TenantID == tenantID && evt.Channel == channel && evt.ID > sinceID {
			out = append(out, evt)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func testTokenManager() *auth.TokenManager {
	return auth.NewTokenManager([]byte("gateway-test-signing-key"), time.Hour)
}

func setupTestGateway(t *testing.T, querier CatchupQuerier) (*ConnectionManager, *auth.TokenManager, *httptest.Server) {
	t.Helper()

	tm := testTokenManager()
	manager := NewConnectionManager(tm, querier, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept failed: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))

	t.Cleanup(func() { server.Close() })
	return manager, tm, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// authenticate sends a valid connect frame for tenantID and reads the
// connected reply.
func authenticate(t *testing.T, conn *websocket.Conn, tm *auth.TokenManager, tenantID string) {
	t.Helper()
	token, err := tm.Issue("user-1", tenantID, "dev@example.com", "member")
	require.NoError(t, err)

	writeJSON(t, conn, ClientFrame{Type: "connect", Token: token, TenantID: tenantID})
	msg := readJSON(t, conn)
	require.Equal(t, "connected", msg["type"])
	require.NotEmpty(t, msg["session_id"])
}

func TestGatewayHandshake(t *testing.T) {
	manager, tm, server := setupTestGateway(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)

	authenticate(t, conn, tm, "tenant-a")
	assert.Equal(t, 1, manager.ActiveSessions())
}

func TestGatewayHandshakeRejects(t *testing.T) {
	// Each case expects a single error frame followed by close 1008.
	expectReject := func(t *testing.T, conn *websocket.Conn, msgFragment string) {
		t.Helper()
		msg := readJSON(t, conn)
		assert.Equal(t, "error", msg["type"])
		assert.Contains(t, msg["message"], msgFragment)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		require.Error(t, err)
		var ce websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		assert.Equal(t, websocket.StatusPolicyViolation, ce.Code)
	}

	t.Run("invalid token", func(t *testing.T) {
		_, _, server := setupTestGateway(t, &mockCatchupQuerier{})
		conn := connectWS(t, server)
		writeJSON(t, conn, ClientFrame{Type: "connect", Token: "garbage", TenantID: "tenant-a"})
		expectReject(t, conn, "token rejected")
	})

	t.Run("tenant mismatch", func(t *testing.T) {
		_, tm, server := setupTestGateway(t, &mockCatchupQuerier{})
		conn := connectWS(t, server)

		token, err := tm.Issue("user-1", "tenant-a", "dev@example.com", "member")
		require.NoError(t, err)
		writeJSON(t, conn, ClientFrame{Type: "connect", Token: token, TenantID: "tenant-b"})
		expectReject(t, conn, "does not match")
	})

	t.Run("first frame is not connect", func(t *testing.T) {
		_, _, server := setupTestGateway(t, &mockCatchupQuerier{})
		conn := connectWS(t, server)
		writeJSON(t, conn, ClientFrame{Type: "ping"})
		expectReject(t, conn, "expected connect frame")
	})

	t.Run("missing token", func(t *testing.T) {
		_, _, server := setupTestGateway(t, &mockCatchupQuerier{})
		conn := connectWS(t, server)
		writeJSON(t, conn, ClientFrame{Type: "connect", TenantID: "tenant-a"})
		expectReject(t, conn, "requires token and tenant_id")
	})

	t.Run("rejected session is not registered", func(t *testing.T) {
		manager, _, server := setupTestGateway(t, &mockCatchupQuerier{})
		conn := connectWS(t, server)
		writeJSON(t, conn, ClientFrame{Type: "connect", Token: "garbage", TenantID: "tenant-a"})
		readJSON(t, conn) // error frame

		assert.Equal(t, 0, manager.ActiveSessions())
	})
}

func TestGatewayPingPong(t *testing.T) {
	_, tm, server := setupTestGateway(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	writeJSON(t, conn, ClientFrame{Type: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestGatewaySubscribeLifecycle(t *testing.T) {
	manager, tm, server := setupTestGateway(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelIncidents, models.ChannelAlerts}})
	msg := readJSON(t, conn)
	assert.Equal(t, "subscribed", msg["type"])
	assert.ElementsMatch(t, []any{models.ChannelIncidents, models.ChannelAlerts}, msg["channels"])

	require.Eventually(t, func() bool {
		return manager.subscriberCount(models.ChannelIncidents) == 1 &&
			manager.subscriberCount(models.ChannelAlerts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	writeJSON(t, conn, ClientFrame{Type: "unsubscribe", Channels: []string{models.ChannelAlerts}})
	msg = readJSON(t, conn)
	assert.Equal(t, "unsubscribed", msg["type"])

	require.Eventually(t, func() bool {
		return manager.subscriberCount(models.ChannelAlerts) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, manager.subscriberCount(models.ChannelIncidents))
}

func TestGatewayRejectsUnknownChannel(t *testing.T) {
	_, tm, server := setupTestGateway(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{"sessions"}})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "unknown channel")

	// Connection survives the rejected subscribe.
	writeJSON(t, conn, ClientFrame{Type: "ping"})
	msg = readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestGatewayBroadcastFiltersByTenant(t *testing.T) {
	manager, tm, server := setupTestGateway(t, &mockCatchupQuerier{})

	connA := connectWS(t, server)
	authenticate(t, connA, tm, "tenant-a")
	connB := connectWS(t, server)
	authenticate(t, connB, tm, "tenant-b")

	for _, conn := range []*websocket.Conn{connA, connB} {
		writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelIncidents}})
		readJSON(t, conn) // subscribed
	}
	require.Eventually(t, func() bool {
		return manager.subscriberCount(models.ChannelIncidents) == 2
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]any{
		"type":      "incident.created",
		"tenant_id": "tenant-a",
		"data":      map[string]any{"incident_id": "inc-1"},
	})
	manager.Broadcast(models.ChannelIncidents, payload)

	msg := readJSON(t, connA)
	assert.Equal(t, "incident.created", msg["type"])

	// tenant-b must not see tenant-a's event.
	readCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := connB.Read(readCtx)
	assert.Error(t, err, "tenant-b should not receive tenant-a's broadcast")
}

func TestGatewayBroadcastRequiresSubscription(t *testing.T) {
	manager, tm, server := setupTestGateway(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelAlerts}})
	readJSON(t, conn) // subscribed
	require.Eventually(t, func() bool {
		return manager.subscriberCount(models.ChannelAlerts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]any{"type": "incident.created", "tenant_id": "tenant-a"})
	manager.Broadcast(models.ChannelIncidents, payload)

	readCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err, "should not receive broadcasts for unsubscribed channels")
}

func TestGatewayDropsPayloadWithoutTenant(t *testing.T) {
	manager, tm, server := setupTestGateway(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelIncidents}})
	readJSON(t, conn) // subscribed
	require.Eventually(t, func() bool {
		return manager.subscriberCount(models.ChannelIncidents) == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]any{"type": "incident.created"})
	manager.Broadcast(models.ChannelIncidents, payload)

	readCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err, "unscoped payloads must be dropped")
}

func TestGatewayCatchupReplay(t *testing.T) {
	querier := &mockCatchupQuerier{
		events: []*models.Event{
			{ID: 5, TenantID: "tenant-a", Channel: models.ChannelIncidents, Payload: models.JSONMap{"type": "incident.created", "tenant_id": "tenant-a", "seq": float64(1)}},
			{ID: 6, TenantID: "tenant-a", Channel: models.ChannelIncidents, Payload: models.JSONMap{"type": "incident.updated", "tenant_id": "tenant-a", "seq": float64(2)}},
			{ID: 7, TenantID: "tenant-b", Channel: models.ChannelIncidents, Payload: models.JSONMap{"type": "incident.updated", "tenant_id": "tenant-b", "seq": float64(3)}},
		},
	}
	_, tm, server := setupTestGateway(t, querier)
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	lastEventID := int64(4)
	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelIncidents}, LastEventID: &lastEventID})
	msg := readJSON(t, conn)
	require.Equal(t, "subscribed", msg["type"])

	// Replay arrives after the ack, oldest first, scoped to tenant-a,
	// with db_event_id injected from the row id.
	first := readJSON(t, conn)
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, float64(5), first["db_event_id"])

	second := readJSON(t, conn)
	assert.Equal(t, float64(2), second["seq"])
	assert.Equal(t, float64(6), second["db_event_id"])

	// tenant-b's event 7 must not be replayed.
	readCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err)
}

func TestGatewayCatchupOverflow(t *testing.T) {
	manyEvents := make([]*models.Event, catchupLimit+5)
	for i := range manyEvents {
		manyEvents[i] = &models.Event{
			ID:       int64(i + 1),
			TenantID: "tenant-a",
			Channel:  models.ChannelAlerts,
			Payload:  models.JSONMap{"type": "alert.fired", "tenant_id": "tenant-a", "seq": float64(i)},
		}
	}
	_, tm, server := setupTestGateway(t, &mockCatchupQuerier{events: manyEvents})
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	lastEventID := int64(0)
	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelAlerts}, LastEventID: &lastEventID})
	readJSON(t, conn) // subscribed

	// The replay is capped, so an overflow marker must arrive within the
	// first catchupLimit frames.
	for i := 0; ; i++ {
		require.Less(t, i, catchupLimit+5, "no catchup.overflow frame before cap")
		msg := readJSON(t, conn)
		if msg["type"] == "catchup.overflow" {
			assert.Equal(t, true, msg["has_more"])
			return
		}
	}
}

func TestGatewayCatchupFailureIsNonFatal(t *testing.T) {
	// Catchup failure is logged, not fatal: the session stays usable.
	_, tm, server := setupTestGateway(t, &mockCatchupQuerier{err: fmt.Errorf("database unreachable")})
	conn := connectWS(t, server)
	authenticate(t, conn, tm, "tenant-a")

	lastEventID := int64(0)
	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelIncidents}, LastEventID: &lastEventID})
	readJSON(t, conn) // subscribed

	writeJSON(t, conn, ClientFrame{Type: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestGatewayCleanupOnDisconnect(t *testing.T) {
	manager, tm, server := setupTestGateway(t, &mockCatchupQuerier{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	authenticate(t, conn, tm, "tenant-a")

	writeJSON(t, conn, ClientFrame{Type: "subscribe", Channels: []string{models.ChannelIncidents}})
	readJSON(t, conn) // subscribed
	require.Equal(t, 1, manager.ActiveSessions())

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return manager.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, manager.subscriberCount(models.ChannelIncidents))

	// Broadcast after cleanup should not panic.
	payload, _ := json.Marshal(map[string]any{"type": "incident.created", "tenant_id": "tenant-a"})
	assert.NotPanics(t, func() {
		manager.Broadcast(models.ChannelIncidents, payload)
	})
}

func TestGatewayBroadcastUnknownChannelIsNoop(t *testing.T) {
	manager, _, _ := setupTestGateway(t, &mockCatchupQuerier{})

	payload, _ := json.Marshal(map[string]any{"type": "test", "tenant_id": "tenant-a"})
	manager.Broadcast("nonexistent-channel", payload)
}
