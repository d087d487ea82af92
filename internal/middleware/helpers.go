// internal/middleware/helpers.go
package middleware

import (
	"storefront-service/internal/domain/auth"

	"github.com/gin-gonic/gin"
)

// GetIdentityID gets the authenticated identity ID from context
func GetIdentityID(c *gin.Context) (string, bool) {
	return getString(c, ctxIdentityID)
}

// MustGetIdentityID gets identity ID from context or panics
func MustGetIdentityID(c *gin.Context) string {
	identityID, exists := GetIdentityID(c)
	if !exists {
		panic("identity_id not found in context")
	}
	return identityID
}

// MustGetSessionID gets the session ID from context or panics
func MustGetSessionID(c *gin.Context) string {
	sessionID, exists := getString(c, ctxSessionID)
	if !exists {
		panic("session_id not found in context")
	}
	return sessionID
}

// MustGetAccessToken returns the raw bearer token of the request
func MustGetAccessToken(c *gin.Context) string {
	token, exists := getString(c, ctxToken)
	if !exists {
		panic("access_token not found in context")
	}
	return token
}

// GetRole returns the role set by RequireRole
func GetRole(c *gin.Context) (auth.Role, bool) {
	v, exists := c.Get(ctxRole)
	if !exists {
		return "", false
	}
	role, ok := v.(auth.Role)
	return role, ok
}

func getString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
