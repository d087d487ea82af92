// internal/domain/auth/dto.go
package auth

import "time"

// SignUpRequest for account registration
type SignUpRequest struct {
	Email       string                 `json:"email" binding:"required,email"`
	Password    string                 `json:"password" binding:"required,min=8"`
	FullName    string                 `json:"full_name"`
	RoleRequest string                 `json:"role_request"`
	Metadata    map[string]interface{} `json:"metadata"`
	Device      string                 `json:"device"`
	IPAddress   string                 `json:"-"`
	UserAgent   string                 `json:"-"`
}

// LoginRequest for password sign-in
type LoginRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	Device    string `json:"device"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// RefreshRequest exchanges a refresh token for a new session
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LoginResponse successful sign-in response
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *Identity `json:"user"`
}

// NewLoginResponse builds the wire response for a session.
func NewLoginResponse(s *Session) *LoginResponse {
	return &LoginResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(s.ExpiresAt).Seconds()),
		ExpiresAt:    s.ExpiresAt,
		User:         s.Identity,
	}
}

// ConsistencyResponse reports the outcome of a verify or repair run
type ConsistencyResponse struct {
	UserID string `json:"user_id"`
	OK     bool   `json:"ok"`
}

// DestinationResponse is the landing view for the caller's role
type DestinationResponse struct {
	Role        Role   `json:"role"`
	Destination string `json:"destination"`
	Path        string `json:"path"`
}
