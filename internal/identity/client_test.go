package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAuthn struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session // by access token
	getErr   error
	signOuts []string
}

func newFakeAuthn() *fakeAuthn {
	return &fakeAuthn{sessions: make(map[string]*auth.Session)}
}

func (f *fakeAuthn) add(token, sid string, identity *auth.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[token] = &auth.Session{ID: sid, AccessToken: token, RefreshToken: "r-" + token, Identity: identity}
}

func (f *fakeAuthn) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
}

func (f *fakeAuthn) SignUp(_ context.Context, req *auth.SignUpRequest) (*auth.Session, error) {
	f.add("t-new", "s-new", &auth.Identity{ID: "u-new", Email: req.Email})
	return f.GetSession(context.Background(), "t-new")
}

func (f *fakeAuthn) SignInWithPassword(_ context.Context, req *auth.LoginRequest) (*auth.Session, error) {
	if req.Password != "secret" {
		return nil, xerrors.ErrInvalidCredentials
	}
	f.add("t-login", "s-login", &auth.Identity{ID: "u1", Email: req.Email})
	return f.GetSession(context.Background(), "t-login")
}

func (f *fakeAuthn) SignOut(_ context.Context, accessToken string) error {
	f.mu.Lock()
	f.signOuts = append(f.signOuts, accessToken)
	f.mu.Unlock()
	f.revoke(accessToken)
	return nil
}

func (f *fakeAuthn) RefreshSession(_ context.Context, refreshToken string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, s := range f.sessions {
		if s.RefreshToken != refreshToken {
			continue
		}
		delete(f.sessions, token)
		rotated := &auth.Session{ID: s.ID, AccessToken: token + "+", RefreshToken: "r-" + token + "+", Identity: s.Identity}
		f.sessions[rotated.AccessToken] = rotated
		cp := *rotated
		return &cp, nil
	}
	return nil, xerrors.ErrSessionExpired
}

func (f *fakeAuthn) GetSession(_ context.Context, accessToken string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.sessions[accessToken]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// fakeBus delivers events synchronously on the publisher's goroutine.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]map[int]func(auth.SessionEvent)
	next     int
	subErr   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]map[int]func(auth.SessionEvent))}
}

func (b *fakeBus) Subscribe(_ context.Context, identityID string, handler func(auth.SessionEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	if b.handlers[identityID] == nil {
		b.handlers[identityID] = make(map[int]func(auth.SessionEvent))
	}
	id := b.next
	b.next++
	b.handlers[identityID][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[identityID], id)
	}, nil
}

func (b *fakeBus) publish(ev auth.SessionEvent) {
	b.mu.Lock()
	var hs []func(auth.SessionEvent)
	for _, h := range b.handlers[ev.IdentityID] {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (b *fakeBus) subscribers(identityID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[identityID])
}

type seen struct {
	mu    sync.Mutex
	kinds []auth.SessionEventKind
	last  *auth.Session
}

func (s *seen) record(kind auth.SessionEventKind, sess *auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	s.last = sess
}

func newClient(t *testing.T) (*Client, *fakeAuthn, *fakeBus, *seen) {
	t.Helper()
	authn := newFakeAuthn()
	bus := newFakeBus()
	c := NewClient(authn, bus, zap.NewNop())
	t.Cleanup(c.Close)

	s := &seen{}
	c.OnSessionChange(s.record)
	return c, authn, bus, s
}

func TestRestoreIsSilent(t *testing.T) {
	c, authn, bus, s := newClient(t)
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})

	require.NoError(t, c.Restore(context.Background(), "t1"))
	assert.Empty(t, s.kinds)
	assert.Equal(t, 1, bus.subscribers("u1"))

	sess, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, "r-t1", sess.RefreshToken)
}

func TestRestoreRejectsUnknownToken(t *testing.T) {
	c, _, _, _ := newClient(t)
	assert.ErrorIs(t, c.Restore(context.Background(), "nope"), xerrors.ErrUnauthorized)

	sess, err := c.GetSession(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, sess)
}

func TestGetSessionDropsRevokedSession(t *testing.T) {
	c, authn, _, _ := newClient(t)
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	require.NoError(t, c.Restore(context.Background(), "t1"))

	authn.revoke("t1")
	sess, err := c.GetSession(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, sess)
}

func TestGetSessionSurfacesBackendErrors(t *testing.T) {
	c, authn, _, _ := newClient(t)
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	require.NoError(t, c.Restore(context.Background(), "t1"))

	authn.getErr = errors.New("redis: connection refused")
	_, err := c.GetSession(context.Background())
	assert.Error(t, err)
}

func TestSignInAndSignOutNotifyListeners(t *testing.T) {
	c, authn, _, s := newClient(t)
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, &auth.LoginRequest{Email: "u1@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidCredentials)
	assert.Empty(t, s.kinds)

	sess, err := c.SignInWithPassword(ctx, &auth.LoginRequest{Email: "u1@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.Identity.ID)

	require.NoError(t, c.SignOut(ctx))
	require.NoError(t, c.SignOut(ctx))

	assert.Equal(t, []auth.SessionEventKind{auth.EventSignedIn, auth.EventSignedOut}, s.kinds)
	assert.Nil(t, s.last)
	assert.Equal(t, []string{"t-login"}, authn.signOuts)
}

func TestSignUpNotifiesListeners(t *testing.T) {
	c, _, bus, s := newClient(t)

	_, err := c.SignUp(context.Background(), &auth.SignUpRequest{Email: "new@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, []auth.SessionEventKind{auth.EventSignedIn}, s.kinds)
	assert.Equal(t, 1, bus.subscribers("u-new"))
}

func TestRemoteSignOut(t *testing.T) {
	c, authn, bus, s := newClient(t)
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	require.NoError(t, c.Restore(context.Background(), "t1"))

	t.Run("other session of the same identity is ignored", func(t *testing.T) {
		bus.publish(auth.SessionEvent{Kind: auth.EventSignedOut, IdentityID: "u1", SessionID: "s-other"})
		assert.Empty(t, s.kinds)
	})

	t.Run("sign-ins elsewhere are ignored", func(t *testing.T) {
		bus.publish(auth.SessionEvent{Kind: auth.EventSignedIn, IdentityID: "u1", SessionID: "s9"})
		assert.Empty(t, s.kinds)
	})

	t.Run("own session ends", func(t *testing.T) {
		bus.publish(auth.SessionEvent{Kind: auth.EventSignedOut, IdentityID: "u1", SessionID: "s1"})
		bus.publish(auth.SessionEvent{Kind: auth.EventSignedOut, IdentityID: "u1", SessionID: "s1"})
		assert.Equal(t, []auth.SessionEventKind{auth.EventSignedOut}, s.kinds)
	})
}

func TestRemoteSignOutEverywhere(t *testing.T) {
	c, authn, bus, s := newClient(t)
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	require.NoError(t, c.Restore(context.Background(), "t1"))

	bus.publish(auth.SessionEvent{Kind: auth.EventSignedOut, IdentityID: "u1"})
	assert.Equal(t, []auth.SessionEventKind{auth.EventSignedOut}, s.kinds)
}

func TestRemoteUserUpdateReloadsIdentity(t *testing.T) {
	c, authn, bus, s := newClient(t)
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	require.NoError(t, c.Restore(context.Background(), "t1"))

	authn.add("t1", "s1", &auth.Identity{ID: "u1", Metadata: map[string]interface{}{auth.MetaName: "Ada"}})
	bus.publish(auth.SessionEvent{Kind: auth.EventUserUpdated, IdentityID: "u1"})

	require.Equal(t, []auth.SessionEventKind{auth.EventUserUpdated}, s.kinds)
	assert.Equal(t, "Ada", s.last.Identity.Metadata[auth.MetaName])
	assert.Equal(t, "r-t1", s.last.RefreshToken)
}

func TestCloseStopsDelivery(t *testing.T) {
	c, authn, bus, s := newClient(t)
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	require.NoError(t, c.Restore(context.Background(), "t1"))

	c.Close()
	assert.Equal(t, 0, bus.subscribers("u1"))
	assert.Error(t, c.Restore(context.Background(), "t1"))
	assert.Empty(t, s.kinds)
}

func TestRefreshSessionRotatesHeldTokens(t *testing.T) {
	c, authn, _, s := newClient(t)
	ctx := context.Background()

	_, err := c.RefreshSession(ctx, "")
	assert.ErrorIs(t, err, xerrors.ErrSessionExpired)

	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	require.NoError(t, c.Restore(ctx, "t1"))

	sess, err := c.RefreshSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, "t1+", sess.AccessToken)
	assert.Equal(t, []auth.SessionEventKind{auth.EventTokenRefreshed}, s.kinds)

	held, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1+", held.AccessToken)

	_, err = c.RefreshSession(ctx, "r-t1")
	assert.ErrorIs(t, err, xerrors.ErrSessionExpired)
}

func TestRefreshSessionRejectsForeignToken(t *testing.T) {
	c, authn, _, s := newClient(t)
	ctx := context.Background()
	authn.add("t1", "s1", &auth.Identity{ID: "u1"})
	authn.add("t2", "s2", &auth.Identity{ID: "u2"})
	require.NoError(t, c.Restore(ctx, "t1"))

	_, err := c.RefreshSession(ctx, "r-t2")
	assert.ErrorIs(t, err, xerrors.ErrForbidden)
	assert.Empty(t, s.kinds)
}

func TestSignInKeepsPreviousSessionWhenSubscribeFails(t *testing.T) {
	c, authn, bus, s := newClient(t)
	authn.add("t0", "s0", &auth.Identity{ID: "u0"})
	require.NoError(t, c.Restore(context.Background(), "t0"))

	bus.mu.Lock()
	bus.subErr = errors.New("redis: connection refused")
	bus.mu.Unlock()

	_, err := c.SignInWithPassword(context.Background(), &auth.LoginRequest{Email: "ann@example.com", Password: "secret"})
	require.Error(t, err)
	assert.Empty(t, s.kinds)

	sess, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "s0", sess.ID)
	assert.Equal(t, 1, bus.subscribers("u0"))
	assert.Zero(t, bus.subscribers("u1"))
}

func TestSignUpHoldsNothingWhenSubscribeFails(t *testing.T) {
	c, _, bus, s := newClient(t)
	bus.mu.Lock()
	bus.subErr = errors.New("redis: connection refused")
	bus.mu.Unlock()

	_, err := c.SignUp(context.Background(), &auth.SignUpRequest{Email: "new@example.com"})
	require.Error(t, err)
	assert.Empty(t, s.kinds)

	sess, err := c.GetSession(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, sess)
}
