// internal/service/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"
	"storefront-service/internal/pkg/jwt"
	"storefront-service/internal/pkg/session"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// EventPublisher broadcasts session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev auth.SessionEvent) error
}

// AuthService is the identity store: it owns credentials, issues sessions
// and announces every session transition on the event bus.
type AuthService struct {
	credentials    auth.CredentialRepository
	roles          auth.RoleRepository
	profiles       auth.ProfileRepository
	jwtManager     *jwt.Manager
	sessionManager *session.Manager
	rateLimiter    *session.RateLimiter
	events         EventPublisher
	logger         *zap.Logger
}

func NewAuthService(
	credentials auth.CredentialRepository,
	roles auth.RoleRepository,
	profiles auth.ProfileRepository,
	jwtManager *jwt.Manager,
	sessionManager *session.Manager,
	rateLimiter *session.RateLimiter,
	events EventPublisher,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		credentials:    credentials,
		roles:          roles,
		profiles:       profiles,
		jwtManager:     jwtManager,
		sessionManager: sessionManager,
		rateLimiter:    rateLimiter,
		events:         events,
		logger:         logger,
	}
}

// ========== Registration ==========

// SignUp registers an account and signs it in. The requested role is kept in
// the registration metadata and used when the role record is provisioned.
func (s *AuthService) SignUp(ctx context.Context, req *auth.SignUpRequest) (*auth.Session, error) {
	metadata := make(map[string]interface{}, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.FullName != "" {
		metadata[auth.MetaFullName] = req.FullName
	}
	if req.RoleRequest != "" {
		metadata[auth.MetaRoleRequest] = req.RoleRequest
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &auth.Credential{
		ID:           uuid.NewString(),
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: string(hashed),
		Metadata:     metadata,
	}
	if err := s.credentials.CreateCredential(ctx, cred); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEntry) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.provisionAccount(ctx, cred)

	s.logger.Info("account registered",
		zap.String("identity_id", cred.ID),
		zap.String("email", cred.Email))

	return s.issueSession(ctx, cred, req.Device, req.IPAddress, req.UserAgent)
}

// provisionAccount creates the role and profile records of a new account.
// Failures are logged only; consistency checks repair them later.
func (s *AuthService) provisionAccount(ctx context.Context, cred *auth.Credential) {
	role := auth.DefaultRole
	if raw, ok := cred.Metadata[auth.MetaRoleRequest].(string); ok {
		if requested, valid := auth.ParseRole(raw); valid {
			role = requested
		}
	}

	if _, err := s.roles.InsertIfAbsent(ctx, &auth.RoleRecord{UserID: cred.ID, Role: role}); err != nil {
		s.logger.Error("failed to provision role", zap.String("identity_id", cred.ID), zap.Error(err))
	}
	if err := s.profiles.Upsert(ctx, &auth.ProfileRecord{ID: cred.ID}); err != nil {
		s.logger.Error("failed to provision profile", zap.String("identity_id", cred.ID), zap.Error(err))
	}
}

// ========== Sign in / out ==========

// SignInWithPassword authenticates with email and password
func (s *AuthService) SignInWithPassword(ctx context.Context, req *auth.LoginRequest) (*auth.Session, error) {
	allowed, _, err := s.rateLimiter.CheckLoginAttempt(ctx, req.IPAddress, req.Email)
	if err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	if !allowed {
		return nil, xerrors.ErrRateLimited
	}

	cred, err := s.credentials.FindCredentialByEmail(ctx, req.Email)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, xerrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)); err != nil {
		return nil, xerrors.ErrInvalidCredentials
	}

	if err := s.rateLimiter.ResetLoginAttempts(ctx, req.IPAddress, req.Email); err != nil {
		s.logger.Warn("failed to reset login attempts", zap.Error(err))
	}

	return s.issueSession(ctx, cred, req.Device, req.IPAddress, req.UserAgent)
}

// issueSession creates a session with a fresh token pair
func (s *AuthService) issueSession(ctx context.Context, cred *auth.Credential, device, ipAddress, userAgent string) (*auth.Session, error) {
	sub := jwt.Subject{
		IdentityID: cred.ID,
		Email:      cred.Email,
		SessionID:  ulid.Make().String(),
		Device:     device,
	}

	accessToken, accessJTI, expiresAt, err := s.jwtManager.Generator.GenerateAccessToken(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, refreshJTI, refreshExpiresAt, err := s.jwtManager.Generator.GenerateRefreshToken(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := time.Now()
	data := &session.SessionData{
		SessionID:      sub.SessionID,
		IdentityID:     cred.ID,
		Email:          cred.Email,
		AccessJTI:      accessJTI,
		RefreshJTI:     refreshJTI,
		Device:         device,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		LoginAt:        now,
		LastActivityAt: now,
		ExpiresAt:      refreshExpiresAt,
	}
	if err := s.sessionManager.SaveSession(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.publish(ctx, auth.EventSignedIn, cred.ID, sub.SessionID)

	return &auth.Session{
		ID:           sub.SessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Identity:     identityFromCredential(cred),
	}, nil
}

// SignOut ends the session the access token belongs to
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.ValidateToken(ctx, accessToken)
	if err != nil {
		return err
	}

	data, err := s.sessionManager.GetSession(ctx, claims.IdentityID, claims.SessionID)
	if err != nil && !errors.Is(err, xerrors.ErrSessionExpired) {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.sessionManager.InvalidateSession(ctx, claims.IdentityID, claims.SessionID); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	if err := s.sessionManager.BlacklistToken(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	if data != nil {
		if err := s.sessionManager.BlacklistToken(ctx, data.RefreshJTI, time.Until(data.ExpiresAt)); err != nil {
			s.logger.Warn("failed to blacklist refresh token", zap.Error(err))
		}
	}

	s.publish(ctx, auth.EventSignedOut, claims.IdentityID, claims.SessionID)
	return nil
}

// SignOutEverywhere ends every session of the identity
func (s *AuthService) SignOutEverywhere(ctx context.Context, identityID string) error {
	if err := s.sessionManager.InvalidateAllUserSessions(ctx, identityID); err != nil {
		return fmt.Errorf("failed to invalidate sessions: %w", err)
	}
	s.publish(ctx, auth.EventSignedOut, identityID, "")
	return nil
}

// ========== Tokens ==========

// RefreshSession rotates both tokens of the session behind refreshToken
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	claims, err := s.jwtManager.Verifier.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnauthorized, err)
	}

	blacklisted, err := s.sessionManager.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return nil, xerrors.ErrSessionExpired
	}

	data, err := s.sessionManager.GetSession(ctx, claims.IdentityID, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if data.RefreshJTI != claims.ID {
		return nil, xerrors.ErrSessionExpired
	}

	identity, err := s.credentials.FindIdentityByID(ctx, claims.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	sub := jwt.Subject{
		IdentityID: claims.IdentityID,
		Email:      identity.Email,
		SessionID:  claims.SessionID,
		Device:     claims.Device,
	}
	accessToken, accessJTI, expiresAt, err := s.jwtManager.Generator.GenerateAccessToken(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	newRefresh, refreshJTI, refreshExpiresAt, err := s.jwtManager.Generator.GenerateRefreshToken(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	oldAccessJTI := data.AccessJTI
	data.AccessJTI = accessJTI
	data.RefreshJTI = refreshJTI
	data.LastActivityAt = time.Now()
	data.ExpiresAt = refreshExpiresAt
	if err := s.sessionManager.SaveSession(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	for _, jti := range []string{oldAccessJTI, claims.ID} {
		if err := s.sessionManager.BlacklistToken(ctx, jti, s.jwtManager.Generator.RefreshTtl); err != nil {
			s.logger.Warn("failed to blacklist rotated token", zap.String("jti", jti), zap.Error(err))
		}
	}

	s.publish(ctx, auth.EventTokenRefreshed, claims.IdentityID, claims.SessionID)

	return &auth.Session{
		ID:           claims.SessionID,
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    expiresAt,
		Identity:     identity,
	}, nil
}

// ValidateToken validates an access token against the blacklist and the
// live session.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.jwtManager.Verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnauthorized, err)
	}

	blacklisted, err := s.sessionManager.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return nil, xerrors.ErrSessionExpired
	}

	data, err := s.sessionManager.GetSession(ctx, claims.IdentityID, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if data.AccessJTI != claims.ID {
		return nil, xerrors.ErrSessionExpired
	}

	return claims, nil
}

// GetSession resolves an access token to its session. A token that is
// invalid, revoked or expired yields a nil session and no error.
func (s *AuthService) GetSession(ctx context.Context, accessToken string) (*auth.Session, error) {
	if accessToken == "" {
		return nil, nil
	}

	claims, err := s.ValidateToken(ctx, accessToken)
	if errors.Is(err, xerrors.ErrUnauthorized) || errors.Is(err, xerrors.ErrSessionExpired) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	identity, err := s.credentials.FindIdentityByID(ctx, claims.IdentityID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	return &auth.Session{
		ID:          claims.SessionID,
		AccessToken: accessToken,
		ExpiresAt:   claims.ExpiresAt.Time,
		Identity:    identity,
	}, nil
}

// ========== Profile ==========

// UpdateMetadata merges metadata into the identity and notifies its
// sessions.
func (s *AuthService) UpdateMetadata(ctx context.Context, identityID string, metadata map[string]interface{}) (*auth.Identity, error) {
	if err := s.credentials.MergeMetadata(ctx, identityID, metadata); err != nil {
		return nil, fmt.Errorf("failed to update metadata: %w", err)
	}

	identity, err := s.credentials.FindIdentityByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	s.publish(ctx, auth.EventUserUpdated, identityID, "")
	return identity, nil
}

// GetActiveSessions returns all active sessions for a user
func (s *AuthService) GetActiveSessions(ctx context.Context, identityID string) ([]*session.SessionData, error) {
	sessions, err := s.sessionManager.GetUserActiveSessions(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	return sessions, nil
}

func (s *AuthService) publish(ctx context.Context, kind auth.SessionEventKind, identityID, sessionID string) {
	if s.events == nil {
		return
	}
	ev := auth.SessionEvent{Kind: kind, IdentityID: identityID, SessionID: sessionID, At: time.Now().UTC()}
	if err := s.events.Publish(ctx, ev); err != nil {
		// log only, the session itself is already committed
		s.logger.Error("failed to publish session event",
			zap.String("kind", string(kind)),
			zap.String("identity_id", identityID),
			zap.Error(err))
	}
}

func identityFromCredential(c *auth.Credential) *auth.Identity {
	return &auth.Identity{
		ID:        c.ID,
		Email:     c.Email,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt,
	}
}
