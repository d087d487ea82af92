// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"time"

	"storefront-service/internal/domain/auth"

	"github.com/oklog/ulid/v2"
)

// EventType represents different real-time event types
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Reconciler state (server -> client)
	EventTypeState EventType = "reconcile:state"

	// Reconciler commands (client -> server), answered with the same type
	EventTypeResolveRole       EventType = "reconcile:resolve_role"
	EventTypeVerifyConsistency EventType = "reconcile:verify_consistency"
	EventTypeRepairEntries     EventType = "reconcile:repair_entries"
	EventTypeCheckExists       EventType = "reconcile:check_exists"
	EventTypeClearErrors       EventType = "reconcile:clear_errors"
	EventTypeReinitialize      EventType = "reconcile:reinitialize"

	// Session commands
	EventTypeSignOut        EventType = "session:sign_out"
	EventTypeRefreshSession EventType = "session:refresh"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType              `json:"type"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id,omitempty"`
}

// ErrorData for error events
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// StateData is pushed whenever the connection's reconciler changes.
type StateData struct {
	AuthState         auth.AuthState `json:"auth_state"`
	Identity          *auth.Identity `json:"identity,omitempty"`
	Role              auth.Role      `json:"role,omitempty"`
	RoleFetchAttempts int            `json:"role_fetch_attempts"`
	LastError         string         `json:"last_error,omitempty"`
	Destination       string         `json:"destination,omitempty"`
	Path              string         `json:"path,omitempty"`
}

// UserRequest targets an identity; an empty UserID means the caller.
type UserRequest struct {
	UserID string `json:"user_id"`
}

// RefreshData asks for a token rotation. An empty token uses the one the
// connection holds.
type RefreshData struct {
	RefreshToken string `json:"refresh_token"`
}

// RoleData answers EventTypeResolveRole.
type RoleData struct {
	UserID      string    `json:"user_id"`
	Role        auth.Role `json:"role,omitempty"`
	Resolved    bool      `json:"resolved"`
	Destination string    `json:"destination,omitempty"`
}

// ConsistencyData answers the verify, repair and exists commands.
type ConsistencyData struct {
	UserID string `json:"user_id"`
	OK     bool   `json:"ok"`
}

// NewMessage creates a message stamped with a fresh id.
func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        ulid.Make().String(),
	}
}

// Reply answers msg, echoing its id for correlation.
func Reply(msg *WSMessage, data interface{}) *WSMessage {
	out := NewMessage(msg.Type, data)
	if msg.ID != "" {
		out.Metadata = map[string]interface{}{"reply_to": msg.ID}
	}
	return out
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
