// Package gateway serves authenticated WebSocket sessions and fans bus
// events out to them.
//
// After the HTTP upgrade a client has ten seconds to send a connect
// frame carrying a JWT and the tenant it claims; any failure is answered
// with a single error frame and close code 1008. A verified session
// replies connected and may then subscribe to bus channels. Every bus
// message received from the NotifyListener is forwarded to the sessions
// whose tenant matches the payload's tenant_id and whose subscription
// set contains the source channel; messages without a tenant_id are
// dropped.
package gateway

import (
	"context"
	"time"

	"github.com/stratushq/stratus/pkg/auth"
	"github.com/stratushq/stratus/pkg/models"
)

// handshakeTimeout bounds how long a socket may sit unauthenticated
// after the HTTP upgrade.
const handshakeTimeout = 10 * time.Second

// catchupLimit caps how many events replay per channel on subscribe.
// Beyond it the client gets a catchup.overflow frame and is expected to
// reload state over REST.
const catchupLimit = 200

// ClientFrame is the JSON structure for client → server WebSocket frames.
type ClientFrame struct {
	Type        string   `json:"type"`                    // "connect", "ping", "subscribe", "unsubscribe"
	Token       string   `json:"token,omitempty"`         // connect: JWT
	TenantID    string   `json:"tenant_id,omitempty"`     // connect: claimed tenant
	Channels    []string `json:"channels,omitempty"`      // subscribe/unsubscribe
	LastEventID *int64   `json:"last_event_id,omitempty"` // subscribe: replay persisted events after this id
}

// TokenVerifier validates the JWT presented in a connect frame.
// Implemented by auth.TokenManager.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// CatchupQuerier queries persisted events for replay.
// Implemented by store.EventStore.
type CatchupQuerier interface {
	ListSince(ctx context.Context, tenantID, channel string, sinceID int64, limit int) ([]*models.Event, error)
}
