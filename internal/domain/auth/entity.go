// internal/domain/auth/entity.go
package auth

import (
	"strings"
	"time"
)

// Role is one of the four storefront roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSeller   Role = "seller"
	RoleDelivery Role = "delivery"
	RoleCustomer Role = "customer"

	// DefaultRole is assigned when an identity has no role record.
	DefaultRole = RoleCustomer
)

// Registration metadata keys
const (
	MetaName              = "name"
	MetaFullName          = "full_name"
	MetaPreferredUsername = "preferred_username"
	MetaRoleRequest       = "role_request"
)

// ParseRole validates s against the known roles.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleDelivery, RoleCustomer:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// AuthState is the coarse authentication status of a reconciler.
type AuthState string

const (
	StateInitializing    AuthState = "initializing"
	StateAuthenticated   AuthState = "authenticated"
	StateUnauthenticated AuthState = "unauthenticated"
	StateError           AuthState = "error"
)

// Identity is the authenticated principal as issued by the identity store.
type Identity struct {
	ID          string                 `json:"id"`
	Email       string                 `json:"email"`
	DisplayName string                 `json:"display_name"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// MetaString returns a non-blank string metadata value.
func (i *Identity) MetaString(key string) (string, bool) {
	if i == nil || i.Metadata == nil {
		return "", false
	}
	v, ok := i.Metadata[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RequestedRole returns the role hint recorded at registration, if it is a
// valid role.
func (i *Identity) RequestedRole() (Role, bool) {
	raw, ok := i.MetaString(MetaRoleRequest)
	if !ok {
		return "", false
	}
	return ParseRole(raw)
}

// Credential is the stored login record behind an Identity.
type Credential struct {
	ID           string                 `json:"id" db:"id"`
	Email        string                 `json:"email" db:"email"`
	PasswordHash string                 `json:"-" db:"password_hash"`
	Metadata     map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" db:"updated_at"`
}

// Session is a live authentication session.
type Session struct {
	ID           string    `json:"id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     *Identity `json:"identity"`
}

// RoleRecord assigns a role to a user. Several rows may exist for one user;
// the one with the latest CreatedAt is authoritative.
type RoleRecord struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ProfileRecord is keyed by the identity id. Only its existence matters here.
type ProfileRecord struct {
	ID         string                 `json:"id" db:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty" db:"attributes"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
}

// SessionEventKind names a session lifecycle transition.
type SessionEventKind string

const (
	EventInitialSession SessionEventKind = "initial_session"
	EventSignedIn       SessionEventKind = "signed_in"
	EventSignedOut      SessionEventKind = "signed_out"
	EventTokenRefreshed SessionEventKind = "token_refreshed"
	EventUserUpdated    SessionEventKind = "user_updated"
)

// SessionEvent is published on the session bus. An empty SessionID addresses
// every session of the identity.
type SessionEvent struct {
	Kind       SessionEventKind `json:"kind"`
	IdentityID string           `json:"identity_id"`
	SessionID  string           `json:"session_id,omitempty"`
	At         time.Time        `json:"at"`
}
