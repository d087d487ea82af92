package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (*Manager, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewManager(key, &key.PublicKey, Config{
		Issuer:   "storefront",
		Audience: "storefront-clients",
		TTL:      time.Hour,
		KID:      "test",
	}), key
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m, _ := testManager(t)
	sub := Subject{IdentityID: "u1", Email: "u1@example.com", SessionID: "s1"}

	tok, jti, exp, err := m.Generator.GenerateAccessToken(sub)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.Verifier.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.IdentityID)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, jti, claims.ID)

	_, err = m.Verifier.VerifyRefreshToken(tok)
	assert.Error(t, err)
}

func TestRefreshTokenDefaultsTTL(t *testing.T) {
	m, _ := testManager(t)

	tok, _, exp, err := m.Generator.GenerateRefreshToken(Subject{IdentityID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now().Add(29*24*time.Hour)))

	claims, err := m.Verifier.VerifyRefreshToken(tok)
	require.NoError(t, err)
	assert.Equal(t, PurposeRefresh, claims.SessionPurpose)
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	m, key := testManager(t)
	other := NewManager(key, &key.PublicKey, Config{Issuer: "someone-else", Audience: "storefront-clients", TTL: time.Hour})

	tok, _, _, err := other.Generator.GenerateAccessToken(Subject{IdentityID: "u1"})
	require.NoError(t, err)

	_, err = m.Verifier.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsForeignAudienceAndKey(t *testing.T) {
	m, key := testManager(t)
	other := NewManager(key, &key.PublicKey, Config{Issuer: "storefront", Audience: "admin-console", TTL: time.Hour})

	tok, _, _, err := other.Generator.GenerateAccessToken(Subject{IdentityID: "u1"})
	require.NoError(t, err)
	_, err = m.Verifier.Verify(tok)
	assert.Error(t, err)

	stranger, _ := testManager(t)
	tok, _, _, err = stranger.Generator.GenerateAccessToken(Subject{IdentityID: "u1"})
	require.NoError(t, err)
	_, err = m.Verifier.Verify(tok)
	assert.Error(t, err)
}

func TestParseKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	priv, err := ParseRSAPrivateKey(privPEM)
	require.NoError(t, err)
	assert.True(t, priv.Equal(key))

	pub, err := ParseRSAPublicKey(pubPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = ParseRSAPrivateKey([]byte("garbage"))
	assert.Error(t, err)
}
