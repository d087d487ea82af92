// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"

	wstypes "storefront-service/internal/domain/websocket"

	"go.uber.org/zap"
)

// Hub tracks live connections and routes client messages to handlers.
type Hub struct {
	// Registered clients by identity ID
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	handlerRegistry *HandlerRegistry
	logger          *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[string]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		done:            make(chan struct{}),
		handlerRegistry: NewHandlerRegistry(),
		logger:          logger,
	}
}

// RegisterHandler registers a message handler
func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

// SupportedEvents lists the client message types with a handler
func (h *Hub) SupportedEvents() []wstypes.EventType {
	return h.handlerRegistry.Events()
}

// HandleClientMessage delegates msg to the handler registered for its type.
// It reports false when no handler claims the type.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	handler, exists := h.handlerRegistry.GetHandler(msg.Type)
	if !exists {
		return false, nil
	}
	return true, handler.HandleMessage(ctx, client, msg)
}

// Register adds a client. It returns false once the hub has shut down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.identityID] == nil {
		h.clients[client.identityID] = make(map[*Client]bool)
	}
	h.clients[client.identityID][client] = true
	total := h.totalClients()
	h.mu.Unlock()

	client.logger.Info("websocket client connected", zap.Int("total", total))

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"identity_id": client.identityID,
		"session_id":  client.sessionID,
		"device":      client.device,
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.clients[client.identityID]
	if ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.identityID)
		}
	}
	total := h.totalClients()
	h.mu.Unlock()

	client.Close()
	if ok {
		client.logger.Info("websocket client disconnected", zap.Int("total", total))
	}
}

// GetConnectedClients returns how many connections identityID holds
func (h *Hub) GetConnectedClients(identityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identityID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	var all []*Client
	for id, clients := range h.clients {
		for client := range clients {
			all = append(all, client)
		}
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, client := range all {
		client.SendMessage(wstypes.NewMessage(wstypes.EventTypeDisconnected, map[string]interface{}{
			"reason": "server shutting down",
		}))
		client.Close()
	}
}
