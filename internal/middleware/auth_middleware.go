// internal/middleware/auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront-service/internal/domain/auth"
	"storefront-service/internal/pkg/jwt"
	"storefront-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ctxIdentityID = "identity_id"
	ctxSessionID  = "session_id"
	ctxJTI        = "jti"
	ctxDevice     = "device"
	ctxRole       = "role"
	ctxToken      = "access_token"
)

// TokenValidator checks access tokens against the live session store.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*jwt.Claims, error)
}

// RoleLookup resolves the stored role of an identity.
type RoleLookup interface {
	Resolve(ctx context.Context, userID string) (auth.Role, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
	roles  RoleLookup
}

func NewAuthMiddleware(tokens TokenValidator, roles RoleLookup) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		roles:  roles,
	}
}

// Auth is the base authentication middleware that validates JWT tokens
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		claims, err := m.tokens.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		c.Set(ctxIdentityID, claims.IdentityID)
		c.Set(ctxSessionID, claims.SessionID)
		c.Set(ctxJTI, claims.ID)
		c.Set(ctxDevice, claims.Device)
		c.Set(ctxToken, token)

		c.Next()
	}
}

// RequireRole requires the caller's stored role to be one of roles.
// MUST be used after Auth() middleware
func (m *AuthMiddleware) RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identityID, ok := GetIdentityID(c)
		if !ok {
			response.Error(c, http.StatusForbidden, "authentication required", nil)
			return
		}

		role, err := m.roles.Resolve(c.Request.Context(), identityID)
		if err != nil {
			response.Error(c, http.StatusServiceUnavailable, "failed to resolve role", err)
			return
		}
		c.Set(ctxRole, role)

		for _, required := range roles {
			if role == required {
				c.Next()
				return
			}
		}

		response.Error(c, http.StatusForbidden, "insufficient permissions",
			errors.New("user does not have required role"),
			map[string]interface{}{
				"required_roles": roles,
				"user_role":      role,
			})
	}
}

// AdminOnly returns middlewares for admin-only routes (Auth + RequireRole)
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(auth.RoleAdmin),
	}
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	// Browsers cannot set headers on websocket upgrades
	return c.Query("token")
}
