// internal/websocket/handler.go
package websocket

import (
	"context"
	"fmt"
	"sort"

	wstypes "storefront-service/internal/domain/websocket"
)

// MessageHandler serves a group of client message types.
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) error
	SupportedEvents() []wstypes.EventType
}

// HandlerRegistry maps message types to their handler.
type HandlerRegistry struct {
	handlers map[wstypes.EventType]MessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[wstypes.EventType]MessageHandler),
	}
}

// Register claims every event the handler supports. Two handlers claiming
// the same event is a wiring bug and panics at startup.
func (r *HandlerRegistry) Register(handler MessageHandler) {
	for _, eventType := range handler.SupportedEvents() {
		if _, taken := r.handlers[eventType]; taken {
			panic(fmt.Sprintf("websocket: event %q registered twice", eventType))
		}
		r.handlers[eventType] = handler
	}
}

func (r *HandlerRegistry) GetHandler(eventType wstypes.EventType) (MessageHandler, bool) {
	handler, exists := r.handlers[eventType]
	return handler, exists
}

// Events lists the registered message types in order.
func (r *HandlerRegistry) Events() []wstypes.EventType {
	out := make([]wstypes.EventType, 0, len(r.handlers))
	for eventType := range r.handlers {
		out = append(out, eventType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
