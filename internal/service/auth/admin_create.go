// internal/service/auth/admin_create.go
package auth

import (
	"context"
	"errors"
	"fmt"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// EnsureAdminExists creates the bootstrap admin account if its email is not
// registered yet (called on startup).
func (s *AuthService) EnsureAdminExists(ctx context.Context, email, password, fullName string) error {
	if email == "" || password == "" {
		return fmt.Errorf("admin email and password must be provided via environment variables")
	}

	existing, err := s.credentials.FindCredentialByEmail(ctx, email)
	if err == nil {
		s.logger.Info("admin account already exists, skipping creation", zap.String("identity_id", existing.ID))
		return nil
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		return fmt.Errorf("failed to check admin account: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &auth.Credential{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashed),
		Metadata: map[string]interface{}{
			auth.MetaFullName:    fullName,
			auth.MetaRoleRequest: string(auth.RoleAdmin),
		},
	}
	if err := s.credentials.CreateCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	if err := s.profiles.Upsert(ctx, &auth.ProfileRecord{ID: cred.ID}); err != nil {
		return fmt.Errorf("failed to create admin profile: %w", err)
	}

	if _, err := s.roles.InsertIfAbsent(ctx, &auth.RoleRecord{UserID: cred.ID, Role: auth.RoleAdmin}); err != nil {
		// log only, a consistency repair restores it from role_request
		s.logger.Error("failed to assign admin role", zap.Error(err))
	}

	s.logger.Info("admin account created",
		zap.String("email", cred.Email),
		zap.String("identity_id", cred.ID),
	)
	return nil
}
