// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Subject identifies who a token is issued to.
type Subject struct {
	IdentityID string
	Email      string
	SessionID  string
	Device     string
}

type Generator struct {
	priv       *rsa.PrivateKey
	issuer     string
	audience   string
	kid        string // key id for rotation
	Ttl        time.Duration
	RefreshTtl time.Duration
}

func NewGenerator(priv *rsa.PrivateKey, issuer, audience, kid string, ttl, refreshTtl time.Duration) *Generator {
	return &Generator{
		priv:       priv,
		issuer:     issuer,
		audience:   audience,
		kid:        kid,
		Ttl:        ttl,
		RefreshTtl: refreshTtl,
	}
}

// Generate signs a token for sub and returns it with its jti and expiry.
func (g *Generator) Generate(sub Subject, purpose string, ttl time.Duration) (string, string, time.Time, error) {
	if g.priv == nil {
		return "", "", time.Time{}, fmt.Errorf("jwt generator has nil private key")
	}

	now := time.Now()
	jti := ulid.Make().String()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		IdentityID:     sub.IdentityID,
		Email:          sub.Email,
		SessionID:      sub.SessionID,
		Device:         sub.Device,
		SessionPurpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   sub.IdentityID,
			Audience:  []string{g.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if g.kid != "" {
		tok.Header["kid"] = g.kid
	}

	signed, err := tok.SignedString(g.priv)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, jti, expiresAt, nil
}

// GenerateAccessToken generates a standard access token
func (g *Generator) GenerateAccessToken(sub Subject) (string, string, time.Time, error) {
	return g.Generate(sub, PurposeAccess, g.Ttl)
}

// GenerateRefreshToken generates a refresh token (longer TTL)
func (g *Generator) GenerateRefreshToken(sub Subject) (string, string, time.Time, error) {
	ttl := g.RefreshTtl
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return g.Generate(sub, PurposeRefresh, ttl)
}
