package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storefront-service/internal/domain/auth"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventBus fans session lifecycle events out to every process holding a
// connection for the identity.
type EventBus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewEventBus(client *redis.Client, logger *zap.Logger) *EventBus {
	return &EventBus{client: client, logger: logger}
}

// Publish broadcasts ev on the identity's channel.
func (b *EventBus) Publish(ctx context.Context, ev auth.SessionEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(ev.IdentityID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}
	return nil
}

// Subscribe delivers events for identityID to handler, one at a time, until
// the returned function is called.
func (b *EventBus) Subscribe(ctx context.Context, identityID string, handler func(auth.SessionEvent)) (func(), error) {
	ps := b.client.Subscribe(ctx, channelFor(identityID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var ev auth.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping malformed session event",
					zap.String("identity_id", identityID),
					zap.Error(err))
				continue
			}
			handler(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

func channelFor(identityID string) string {
	return "auth:session:" + identityID
}
