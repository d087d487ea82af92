// Package identity holds the per-connection view of the identity store: the
// session a client currently holds and a change feed for it.
package identity

import (
	"context"
	"fmt"
	"sync"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Authenticator is the server side of the identity store.
type Authenticator interface {
	SignUp(ctx context.Context, req *auth.SignUpRequest) (*auth.Session, error)
	SignInWithPassword(ctx context.Context, req *auth.LoginRequest) (*auth.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error)
	GetSession(ctx context.Context, accessToken string) (*auth.Session, error)
}

// EventSource delivers session events published for an identity.
type EventSource interface {
	Subscribe(ctx context.Context, identityID string, handler func(auth.SessionEvent)) (func(), error)
}

type listener func(kind auth.SessionEventKind, session *auth.Session)

// Client tracks one client's session. Local sign-in/out calls and events
// published by other processes for the same identity are both surfaced to
// OnSessionChange listeners.
type Client struct {
	authn  Authenticator
	events EventSource
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	session     *auth.Session
	listeners   map[int]listener
	nextID      int
	busIdentity string
	busUnsub    func()
	closed      bool
}

func NewClient(authn Authenticator, events EventSource, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		authn:     authn,
		events:    events,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]listener),
	}
}

// Restore adopts the session behind accessToken without notifying
// listeners. It is meant to run before anyone subscribes.
func (c *Client) Restore(ctx context.Context, accessToken string) error {
	sess, err := c.authn.GetSession(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if sess == nil {
		return xerrors.ErrUnauthorized
	}
	return c.adopt(ctx, sess)
}

// GetSession returns the held session after checking it is still live. A
// revoked or expired session is dropped and nil is returned.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	held := c.session
	c.mu.Unlock()

	if held == nil {
		return nil, nil
	}

	live, err := c.authn.GetSession(ctx, held.AccessToken)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != held {
		return c.session, nil
	}
	if live == nil {
		c.session = nil
		return nil, nil
	}
	live.RefreshToken = held.RefreshToken
	c.session = live
	return live, nil
}

// OnSessionChange registers handler for every session transition of this
// client.
func (c *Client) OnSessionChange(handler func(kind auth.SessionEventKind, session *auth.Session)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) SignUp(ctx context.Context, req *auth.SignUpRequest) (*auth.Session, error) {
	sess, err := c.authn.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.adopt(ctx, sess); err != nil {
		return nil, err
	}
	c.emit(auth.EventSignedIn, sess)
	return sess, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, req *auth.LoginRequest) (*auth.Session, error) {
	sess, err := c.authn.SignInWithPassword(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.adopt(ctx, sess); err != nil {
		return nil, err
	}
	c.emit(auth.EventSignedIn, sess)
	return sess, nil
}

// SignOut ends the held session. Signing out without a session is a no-op.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	held := c.session
	c.mu.Unlock()

	if held == nil {
		return nil
	}
	if err := c.authn.SignOut(ctx, held.AccessToken); err != nil {
		return err
	}

	if c.clear(held.ID) {
		c.emit(auth.EventSignedOut, nil)
	}
	return nil
}

// RefreshSession rotates the held session's tokens. refreshToken may be
// empty when the session was obtained by signing in through this client.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	c.mu.Lock()
	held := c.session
	c.mu.Unlock()

	if held == nil {
		return nil, xerrors.ErrSessionExpired
	}
	if refreshToken == "" {
		refreshToken = held.RefreshToken
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token held", xerrors.ErrInvalidInput)
	}

	sess, err := c.authn.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if sess.Identity == nil || held.Identity == nil || sess.Identity.ID != held.Identity.ID {
		return nil, fmt.Errorf("%w: refresh token belongs to another identity", xerrors.ErrForbidden)
	}

	c.mu.Lock()
	if c.session != held {
		c.mu.Unlock()
		return nil, xerrors.ErrSessionExpired
	}
	c.session = sess
	c.mu.Unlock()

	c.emit(auth.EventTokenRefreshed, sess)
	return sess, nil
}

// Close drops every listener and the event subscription.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.busUnsub
	c.busUnsub = nil
	c.listeners = make(map[int]listener)
	c.mu.Unlock()

	c.cancel()
	if unsub != nil {
		unsub()
	}
}

// adopt stores sess and makes sure the event subscription follows its
// identity. The held session only changes once the subscription is in
// place, so a failed subscribe leaves the client as it was.
func (c *Client) adopt(ctx context.Context, sess *auth.Session) error {
	identityID := sess.Identity.ID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("identity client closed")
	}
	if c.events == nil || c.busIdentity == identityID {
		c.session = sess
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	unsub, err := c.events.Subscribe(ctx, identityID, c.handleEvent)
	if err != nil {
		return fmt.Errorf("failed to follow session events: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return fmt.Errorf("identity client closed")
	}
	previous := c.busUnsub
	c.session = sess
	c.busIdentity = identityID
	c.busUnsub = unsub
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
	return nil
}

// handleEvent reacts to events published by any process. Sign-ins and
// refreshes are only reported by the client that performed them.
func (c *Client) handleEvent(ev auth.SessionEvent) {
	c.mu.Lock()
	held := c.session
	c.mu.Unlock()

	if held == nil || held.Identity == nil || held.Identity.ID != ev.IdentityID {
		return
	}

	switch ev.Kind {
	case auth.EventSignedOut:
		if ev.SessionID != "" && ev.SessionID != held.ID {
			return
		}
		if c.clear(held.ID) {
			c.logger.Info("session ended elsewhere",
				zap.String("identity_id", ev.IdentityID),
				zap.String("session_id", held.ID))
			c.emit(auth.EventSignedOut, nil)
		}

	case auth.EventUserUpdated:
		live, err := c.authn.GetSession(c.ctx, held.AccessToken)
		if err != nil {
			c.logger.Warn("failed to reload updated identity",
				zap.String("identity_id", ev.IdentityID),
				zap.Error(err))
			return
		}
		if live == nil {
			return
		}
		live.RefreshToken = held.RefreshToken

		c.mu.Lock()
		if c.session != held {
			c.mu.Unlock()
			return
		}
		c.session = live
		c.mu.Unlock()
		c.emit(auth.EventUserUpdated, live)
	}
}

// clear drops the held session if it is still sessionID.
func (c *Client) clear(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.ID != sessionID {
		return false
	}
	c.session = nil
	return true
}

func (c *Client) emit(kind auth.SessionEventKind, sess *auth.Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handlers := make([]listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		handlers = append(handlers, l)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(kind, sess)
	}
}
