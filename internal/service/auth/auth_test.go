package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"
	"storefront-service/internal/pkg/jwt"
	"storefront-service/internal/pkg/session"
	"storefront-service/internal/repository/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []auth.SessionEvent
}

func (r *recordedEvents) Publish(_ context.Context, ev auth.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedEvents) kinds() []auth.SessionEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.SessionEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	svc    *AuthService
	store  *memory.Store
	events *recordedEvents
	roles  *memory.RoleRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwtManager := jwt.NewManager(key, &key.PublicKey, jwt.Config{
		Issuer:     "storefront",
		Audience:   "storefront-clients",
		TTL:        time.Hour,
		RefreshTTL: 24 * time.Hour,
	})

	store := memory.NewStore()
	roles := memory.NewRoleRepository(store)
	events := &recordedEvents{}
	logger := zap.NewNop()

	svc := NewAuthService(
		memory.NewAuthRepository(store),
		roles,
		memory.NewProfileRepository(store),
		jwtManager,
		session.NewManager(client, logger),
		session.NewRateLimiter(client),
		events,
		logger,
	)
	return &fixture{svc: svc, store: store, events: events, roles: roles}
}

func signUp(t *testing.T, f *fixture, email, role string) *auth.Session {
	t.Helper()
	sess, err := f.svc.SignUp(context.Background(), &auth.SignUpRequest{
		Email:       email,
		Password:    "correct-horse",
		FullName:    "Jane Doe",
		RoleRequest: role,
		IPAddress:   "127.0.0.1",
	})
	require.NoError(t, err)
	return sess
}

func TestSignUpProvisionsAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := signUp(t, f, "Seller@Example.com", "seller")

	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, "seller@example.com", sess.Identity.Email)
	assert.Equal(t, "seller", sess.Identity.Metadata[auth.MetaRoleRequest])

	rows, err := f.roles.FindByUserID(ctx, sess.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSeller, rows[0].Role)

	_, err = memory.NewProfileRepository(f.store).FindByID(ctx, sess.Identity.ID)
	assert.NoError(t, err)

	assert.Equal(t, []auth.SessionEventKind{auth.EventSignedIn}, f.events.kinds())
}

func TestSignUpInvalidRoleRequestFallsBackToDefault(t *testing.T) {
	f := newFixture(t)
	sess := signUp(t, f, "x@example.com", "superuser")

	rows, err := f.roles.FindByUserID(context.Background(), sess.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultRole, rows[0].Role)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	signUp(t, f, "dup@example.com", "")

	_, err := f.svc.SignUp(context.Background(), &auth.SignUpRequest{Email: "DUP@example.com", Password: "another-pass"})
	assert.ErrorIs(t, err, xerrors.ErrDuplicateEntry)
}

func TestSignInWithPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signUp(t, f, "buyer@example.com", "")

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.SignInWithPassword(ctx, &auth.LoginRequest{Email: "buyer@example.com", Password: "nope", IPAddress: "1.1.1.1"})
		assert.ErrorIs(t, err, xerrors.ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := f.svc.SignInWithPassword(ctx, &auth.LoginRequest{Email: "ghost@example.com", Password: "nope", IPAddress: "1.1.1.1"})
		assert.ErrorIs(t, err, xerrors.ErrInvalidCredentials)
	})

	t.Run("success", func(t *testing.T) {
		sess, err := f.svc.SignInWithPassword(ctx, &auth.LoginRequest{Email: "buyer@example.com", Password: "correct-horse", IPAddress: "1.1.1.1"})
		require.NoError(t, err)
		assert.Equal(t, "buyer@example.com", sess.Identity.Email)
	})
}

func TestSignInRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signUp(t, f, "buyer@example.com", "")

	req := &auth.LoginRequest{Email: "buyer@example.com", Password: "wrong", IPAddress: "2.2.2.2"}
	for i := 0; i < 5; i++ {
		_, err := f.svc.SignInWithPassword(ctx, req)
		require.ErrorIs(t, err, xerrors.ErrInvalidCredentials)
	}
	_, err := f.svc.SignInWithPassword(ctx, req)
	assert.ErrorIs(t, err, xerrors.ErrRateLimited)
}

func TestGetSessionAndSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signUp(t, f, "buyer@example.com", "")

	got, err := f.svc.GetSession(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.Identity.ID, got.Identity.ID)
	assert.Equal(t, sess.ID, got.ID)

	require.NoError(t, f.svc.SignOut(ctx, sess.AccessToken))

	got, err = f.svc.GetSession(ctx, sess.AccessToken)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.svc.RefreshSession(ctx, sess.RefreshToken)
	assert.Error(t, err)

	assert.Equal(t, []auth.SessionEventKind{auth.EventSignedIn, auth.EventSignedOut}, f.events.kinds())
}

func TestGetSessionGarbageToken(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.GetSession(context.Background(), "not-a-token")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.svc.GetSession(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRefreshSessionRotatesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signUp(t, f, "buyer@example.com", "")

	refreshed, err := f.svc.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, refreshed.ID)
	assert.NotEqual(t, sess.AccessToken, refreshed.AccessToken)

	_, err = f.svc.ValidateToken(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, xerrors.ErrSessionExpired)

	_, err = f.svc.ValidateToken(ctx, refreshed.AccessToken)
	assert.NoError(t, err)

	_, err = f.svc.RefreshSession(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, xerrors.ErrSessionExpired)

	assert.Contains(t, f.events.kinds(), auth.EventTokenRefreshed)
}

func TestSignOutEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := signUp(t, f, "buyer@example.com", "")
	second, err := f.svc.SignInWithPassword(ctx, &auth.LoginRequest{Email: "buyer@example.com", Password: "correct-horse", IPAddress: "3.3.3.3"})
	require.NoError(t, err)

	active, err := f.svc.GetActiveSessions(ctx, first.Identity.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, f.svc.SignOutEverywhere(ctx, first.Identity.ID))

	for _, s := range []*auth.Session{first, second} {
		got, err := f.svc.GetSession(ctx, s.AccessToken)
		assert.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestUpdateMetadataPublishesUserUpdated(t *testing.T) {
	f := newFixture(t)
	sess := signUp(t, f, "buyer@example.com", "")

	identity, err := f.svc.UpdateMetadata(context.Background(), sess.Identity.ID, map[string]interface{}{auth.MetaName: "JD"})
	require.NoError(t, err)
	assert.Equal(t, "JD", identity.Metadata[auth.MetaName])
	assert.Equal(t, "Jane Doe", identity.Metadata[auth.MetaFullName])

	kinds := f.events.kinds()
	assert.Equal(t, auth.EventUserUpdated, kinds[len(kinds)-1])
}

func TestEnsureAdminExistsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdminExists(ctx, "admin@example.com", "admin-pass", "Admin"))
	require.NoError(t, f.svc.EnsureAdminExists(ctx, "admin@example.com", "admin-pass", "Admin"))

	cred, err := memory.NewAuthRepository(f.store).FindCredentialByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.RoleCount(cred.ID))

	rows, err := f.roles.FindByUserID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, rows[0].Role)

	assert.Error(t, f.svc.EnsureAdminExists(ctx, "", "", ""))
}
