// internal/pkg/session/types.go
package session

import "time"

// SessionData is the server-side record of a signed-in session.
type SessionData struct {
	SessionID      string    `json:"session_id"`
	IdentityID     string    `json:"identity_id"`
	Email          string    `json:"email"`
	AccessJTI      string    `json:"access_jti"`
	RefreshJTI     string    `json:"refresh_jti"`
	Device         string    `json:"device,omitempty"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	LoginAt        time.Time `json:"login_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}
