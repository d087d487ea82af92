// internal/websocket/client.go
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	wstypes "storefront-service/internal/domain/websocket"
	"storefront-service/internal/identity"
	"storefront-service/internal/service/reconcile"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ClientAuth holds authentication information
type ClientAuth struct {
	IdentityID string
	SessionID  string
	Device     string
}

// Client is one websocket connection. It owns the connection's identity
// client and reconciler and closes both when it goes away.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	identityID string
	sessionID  string
	device     string

	session    *identity.Client
	reconciler *reconcile.Reconciler
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func NewClient(
	hub *Hub,
	conn *websocket.Conn,
	auth *ClientAuth,
	session *identity.Client,
	reconciler *reconcile.Reconciler,
) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 64),
		identityID: auth.IdentityID,
		sessionID:  auth.SessionID,
		device:     auth.Device,
		session:    session,
		reconciler: reconciler,
		logger: hub.logger.With(
			zap.String("identity_id", auth.IdentityID),
			zap.String("session_id", auth.SessionID)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// GetIdentityID returns the client's identity ID
func (c *Client) GetIdentityID() string {
	return c.identityID
}

// Reconciler returns the connection's reconciler
func (c *Client) Reconciler() *reconcile.Reconciler {
	return c.reconciler
}

// Session returns the connection's identity client
func (c *Client) Session() *identity.Client {
	return c.session
}

// ReadPump handles incoming messages from client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump handles outgoing messages to client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ForwardState pushes every reconciler snapshot to the client until the
// reconciler is closed.
func (c *Client) ForwardState() {
	states, unsubscribe := c.reconciler.Subscribe()
	defer unsubscribe()

	for st := range states {
		c.SendMessage(wstypes.NewMessage(wstypes.EventTypeState, stateData(st)))
	}
}

// handleMessage processes incoming messages from client
func (c *Client) handleMessage(data []byte) {
	msg, err := wstypes.ParseMessage(data)
	if err != nil {
		c.SendError("invalid_message", "Failed to parse message", err.Error())
		return
	}

	if msg.Type == wstypes.EventTypePing {
		c.SendMessage(wstypes.NewMessage(wstypes.EventTypePong, nil))
		return
	}

	handled, err := c.hub.HandleClientMessage(c.ctx, c, msg)
	if err != nil {
		c.SendError("handler_error", "Failed to process message", err.Error())
		return
	}
	if !handled {
		c.SendError("unsupported_message", "Unsupported message type", fmt.Sprintf("type %q", msg.Type))
	}
}

// SendMessage queues a message for the client. A client that cannot keep
// up is disconnected.
func (c *Client) SendMessage(msg *wstypes.WSMessage) {
	data, err := msg.ToJSON()
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping connection")
		c.closed = true
		close(c.send)
		c.cancel()
	}
}

// SendError sends an error message to the client
func (c *Client) SendError(code, message, details string) {
	c.SendMessage(wstypes.NewMessage(wstypes.EventTypeError, wstypes.ErrorData{
		Code:    code,
		Message: message,
		Details: details,
	}))
}

// Close stops the reconciler and the identity client and ends the write
// pump. It is safe to call more than once.
func (c *Client) Close() {
	c.reconciler.Close()
	c.session.Close()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	c.cancel()
}

func stateData(st reconcile.State) wstypes.StateData {
	data := wstypes.StateData{
		AuthState:         st.AuthState,
		Identity:          st.Identity,
		Role:              st.Role,
		RoleFetchAttempts: st.RoleFetchAttempts,
		LastError:         st.LastError,
	}
	if st.Role != "" {
		view := reconcile.DestinationFor(st.Role.String())
		data.Destination = string(view)
		data.Path = view.Path()
	}
	return data
}
