// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	PurposeAccess  = "access"
	PurposeRefresh = "refresh"
)

// Claims represents the JWT claims
type Claims struct {
	IdentityID     string `json:"identity_id"`
	Email          string `json:"email,omitempty"`
	SessionID      string `json:"sid"`
	Device         string `json:"device,omitempty"`
	SessionPurpose string `json:"session_purpose"` // access, refresh
	jwt.RegisteredClaims
}
