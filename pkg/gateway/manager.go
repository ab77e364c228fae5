package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/models"
)

// ConnectionManager manages WebSocket sessions and their channel
// subscriptions. Each Go process (pod) has one ConnectionManager; the
// NotifyListener feeds it every bus message via Broadcast.
type ConnectionManager struct {
	verifier TokenVerifier

	// Active sessions: session_id → *Session
	sessions map[string]*Session
	mu       sync.RWMutex

	// Routing indices, both keyed to session_ids:
	// channel → subscribers, tenant_id → members.
	channels map[string]map[string]bool
	tenants  map[string]map[string]bool
	indexMu  sync.RWMutex

	catchupQuerier CatchupQuerier

	// Per-send deadline for socket writes
	writeTimeout time.Duration
}

// Session is one authenticated WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads
// and writes happen on the single goroutine that owns this session
// (HandleConnection's read loop and its deferred cleanup). If a Session is
// ever mutated from a different goroutine, subscriptions must be protected
// by a mutex.
type Session struct {
	ID       string
	TenantID string
	Claims   *auth.Claims

	conn          *websocket.Conn
	subscriptions map[string]bool // channels this session is subscribed to
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager. writeTimeout bounds
// every WebSocket send; zero selects a 5s default.
func NewConnectionManager(verifier TokenVerifier, catchupQuerier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &ConnectionManager{
		verifier:       verifier,
		sessions:       make(map[string]*Session),
		channels:       make(map[string]map[string]bool),
		tenants:        make(map[string]map[string]bool),
		catchupQuerier: catchupQuerier,
		writeTimeout:   writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket session:
// handshake, frame loop, cleanup. Called by the /ws HTTP handler after
// upgrade. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sess, err := m.handshake(ctx, conn)
	if err != nil {
		reject(conn, err)
		return
	}
	sess.ctx = ctx
	sess.cancel = cancel

	m.registerSession(sess)
	defer m.unregisterSession(sess)

	m.sendJSON(sess, map[string]string{
		"type":       "connected",
		"session_id": sess.ID,
	})

	// Read loop — process client frames until the connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid WebSocket frame",
				"session_id", sess.ID, "error", err)
			continue
		}

		m.handleFrame(ctx, sess, &frame)
	}
}

// handshake waits for the connect frame and authenticates it. The token's
// tenant_id claim must equal the claimed tenant.
func (m *ConnectionManager) handshake(ctx context.Context, conn *websocket.Conn) (*Session, error) {
	readCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		return nil, fmt.Errorf("no connect frame: %w", err)
	}

	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.New("malformed connect frame")
	}
	if frame.Type != "connect" {
		return nil, fmt.Errorf("expected connect frame, got %q", frame.Type)
	}
	if frame.Token == "" || frame.TenantID == "" {
		return nil, errors.New("connect frame requires token and tenant_id")
	}

	claims, err := m.verifier.Verify(frame.Token)
	if err != nil {
		return nil, errors.New("token rejected")
	}
	if claims.TenantID != frame.TenantID {
		return nil, errors.New("token tenant does not match claimed tenant")
	}

	return &Session{
		ID:            uuid.New().String(),
		TenantID:      claims.TenantID,
		Claims:        claims,
		conn:          conn,
		subscriptions: make(map[string]bool),
	}, nil
}

// reject sends a single error frame then closes with policy violation
// (1008). Both are best-effort: if the handshake read already tore the
// connection down (deadline expired), they fail silently.
func reject(conn *websocket.Conn, reason error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, _ := json.Marshal(map[string]string{"type": "error", "message": reason.Error()})
	_ = conn.Write(writeCtx, websocket.MessageText, frame)
	_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
}

// Broadcast routes one bus message to every session whose tenant matches
// the payload's tenant_id and whose subscription set contains the source
// channel. Messages without a tenant_id cannot be scoped and are dropped.
func (m *ConnectionManager) Broadcast(channel string, payload []byte) {
	var routing struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(payload, &routing); err != nil || routing.TenantID == "" {
		slog.Warn("Dropping bus message without tenant_id", "channel", channel)
		return
	}

	m.indexMu.RLock()
	subscribers, chOK := m.channels[channel]
	members, tnOK := m.tenants[routing.TenantID]
	if !chOK || !tnOK {
		m.indexMu.RUnlock()
		return
	}
	// Intersect the channel and tenant indices under the lock.
	ids := make([]string, 0, len(subscribers))
	for id := range subscribers {
		if members[id] {
			ids = append(ids, id)
		}
	}
	m.indexMu.RUnlock()

	if len(ids) == 0 {
		return
	}

	// Copy the target sessions out and drop the lock before writing.
	// A slow client can stall a send for up to writeTimeout, and that
	// must not block session register/unregister.
	m.mu.RLock()
	targets := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := m.sessions[id]; ok {
			targets = append(targets, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range targets {
		if err := m.sendRaw(sess, payload); err != nil {
			slog.Warn("Failed to send to WebSocket session, disconnecting",
				"session_id", sess.ID, "error", err)
			m.disconnect(sess)
		}
	}
}

// ActiveSessions returns the count of active WebSocket sessions.
func (m *ConnectionManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// subscriberCount reports how many sessions follow a channel. Tests
// poll it instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	return len(m.channels[channel])
}

// handleFrame dispatches a client frame to the appropriate handler.
func (m *ConnectionManager) handleFrame(ctx context.Context, sess *Session, frame *ClientFrame) {
	switch frame.Type {
	case "ping":
		m.sendJSON(sess, map[string]string{"type": "pong"})

	case "subscribe":
		if len(frame.Channels) == 0 {
			m.sendJSON(sess, map[string]string{"type": "error", "message": "channels is required for subscribe"})
			return
		}
		accepted := make([]string, 0, len(frame.Channels))
		for _, channel := range frame.Channels {
			if !models.ValidChannel(channel) {
				m.sendJSON(sess, map[string]string{"type": "error", "message": "unknown channel: " + channel})
				continue
			}
			m.subscribe(sess, channel)
			accepted = append(accepted, channel)
		}
		if len(accepted) == 0 {
			return
		}
		m.sendJSON(sess, map[string]any{"type": "subscribed", "channels": accepted})
		// Catch-up after the ack: replay persisted events the client
		// missed since its last tracked position.
		if frame.LastEventID != nil {
			for _, channel := range accepted {
				m.replay(ctx, sess, channel, *frame.LastEventID)
			}
		}

	case "unsubscribe":
		if len(frame.Channels) == 0 {
			m.sendJSON(sess, map[string]string{"type": "error", "message": "channels is required for unsubscribe"})
			return
		}
		for _, channel := range frame.Channels {
			m.unsubscribe(sess, channel)
		}
		m.sendJSON(sess, map[string]any{"type": "unsubscribed", "channels": frame.Channels})

	case "connect":
		// The session already authenticated during the handshake.
		m.sendJSON(sess, map[string]string{"type": "error", "message": "already connected"})

	default:
		m.sendJSON(sess, map[string]string{"type": "error", "message": "unknown frame type: " + frame.Type})
	}
}

// subscribe registers a session for a channel. The PG LISTEN for every
// bus channel is established once at startup, so this is purely local
// bookkeeping.
func (m *ConnectionManager) subscribe(sess *Session, channel string) {
	m.indexMu.Lock()
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][sess.ID] = true
	m.indexMu.Unlock()

	sess.subscriptions[channel] = true
}

// unsubscribe removes a session from a channel.
func (m *ConnectionManager) unsubscribe(sess *Session, channel string) {
	m.indexMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, sess.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.indexMu.Unlock()

	delete(sess.subscriptions, channel)
}

// replay sends persisted events on channel since lastEventID to the
// session, oldest first, scoped to the session's tenant.
func (m *ConnectionManager) replay(ctx context.Context, sess *Session, channel string, lastEventID int64) {
	if m.catchupQuerier == nil {
		return
	}

	// Query one past the limit to detect overflow.
	events, err := m.catchupQuerier.ListSince(ctx, sess.TenantID, channel, lastEventID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup replay query failed", "channel", channel, "error", err)
		return
	}

	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	// Send missed events in order, injecting db_event_id for position
	// tracking. The stored payload doesn't contain db_event_id (it's only
	// added to the NOTIFY copy at publish time), so add it here from the
	// DB row id.
	for _, evt := range events {
		evt.Payload["db_event_id"] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.sendRaw(sess, payload); err != nil {
			slog.Warn("Catchup replay send failed",
				"session_id", sess.ID, "error", err)
			return
		}
	}

	// Past the replay cap the client is told to reload over REST rather
	// than page through catchup.
	if hasMore {
		m.sendJSON(sess, map[string]any{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// registerSession adds a session to the tracking map and tenant index.
func (m *ConnectionManager) registerSession(sess *Session) {
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.indexMu.Lock()
	if _, exists := m.tenants[sess.TenantID]; !exists {
		m.tenants[sess.TenantID] = make(map[string]bool)
	}
	m.tenants[sess.TenantID][sess.ID] = true
	m.indexMu.Unlock()
}

// unregisterSession removes a session from the channel and tenant indices
// and closes the socket. Pending sends fail once the session context is
// cancelled and are discarded by their callers.
func (m *ConnectionManager) unregisterSession(sess *Session) {
	for channel := range sess.subscriptions {
		m.unsubscribe(sess, channel)
	}

	m.indexMu.Lock()
	if members, exists := m.tenants[sess.TenantID]; exists {
		delete(members, sess.ID)
		if len(members) == 0 {
			delete(m.tenants, sess.TenantID)
		}
	}
	m.indexMu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()

	sess.cancel()
	_ = sess.conn.Close(websocket.StatusNormalClosure, "")
}

// disconnect tears a session down eagerly after a send failure.
// Cancelling the session context fails its read loop, whose deferred
// cleanup removes the session from all indices.
func (m *ConnectionManager) disconnect(sess *Session) {
	sess.cancel()
	_ = sess.conn.Close(websocket.StatusNormalClosure, "send failed")
}

// sendJSON marshals and sends a JSON message to a single session.
func (m *ConnectionManager) sendJSON(sess *Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Dropping unmarshalable gateway frame",
			"session_id", sess.ID, "error", err)
		return
	}
	if err := m.sendRaw(sess, data); err != nil {
		slog.Warn("Gateway frame send failed",
			"session_id", sess.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single session with a write timeout.
func (m *ConnectionManager) sendRaw(sess *Session, data []byte) error {
	writeCtx, cancel := context.WithTimeout(sess.ctx, m.writeTimeout)
	defer cancel()
	return sess.conn.Write(writeCtx, websocket.MessageText, data)
}
