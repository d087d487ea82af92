package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront-service/internal/domain/auth"
	"storefront-service/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubTokens map[string]*jwt.Claims

func (s stubTokens) ValidateToken(_ context.Context, token string) (*jwt.Claims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, errors.New("unknown token")
}

type stubRoles struct {
	roles map[string]auth.Role
	err   error
}

func (s stubRoles) Resolve(_ context.Context, userID string) (auth.Role, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.roles[userID], nil
}

var testTokens = stubTokens{
	"admin-token": {
		IdentityID:       "u-admin",
		SessionID:        "s-1",
		Device:           "web",
		RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-1"},
	},
	"customer-token": {
		IdentityID: "u-customer",
		SessionID:  "s-2",
	},
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/", append(handlers, func(c *gin.Context) {
		role, _ := GetRole(c)
		c.JSON(http.StatusOK, gin.H{
			"identity_id": MustGetIdentityID(c),
			"session_id":  MustGetSessionID(c),
			"token":       MustGetAccessToken(c),
			"role":        role,
		})
	})...)
	return r
}

func get(r http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	m := NewAuthMiddleware(testTokens, stubRoles{})
	r := newEngine(m.Auth())

	t.Run("missing token", func(t *testing.T) {
		w := get(r, "/", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		w := get(r, "/", map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bearer header", func(t *testing.T) {
		w := get(r, "/", map[string]string{"Authorization": "Bearer admin-token"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"identity_id":"u-admin"`)
		assert.Contains(t, w.Body.String(), `"session_id":"s-1"`)
		assert.Contains(t, w.Body.String(), `"token":"admin-token"`)
	})

	t.Run("query parameter", func(t *testing.T) {
		w := get(r, "/?token=customer-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"identity_id":"u-customer"`)
	})

	t.Run("malformed header falls back to query", func(t *testing.T) {
		w := get(r, "/?token=customer-token", map[string]string{"Authorization": "Token admin-token"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"identity_id":"u-customer"`)
	})
}

func TestRequireRole(t *testing.T) {
	roles := stubRoles{roles: map[string]auth.Role{
		"u-admin":    auth.RoleAdmin,
		"u-customer": auth.RoleCustomer,
	}}
	m := NewAuthMiddleware(testTokens, roles)
	r := newEngine(m.AdminOnly()...)

	w := get(r, "/", map[string]string{"Authorization": "Bearer admin-token"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)

	w = get(r, "/", map[string]string{"Authorization": "Bearer customer-token"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient permissions")
}

func TestRequireRoleResolverFailure(t *testing.T) {
	m := NewAuthMiddleware(testTokens, stubRoles{err: errors.New("db down")})
	r := newEngine(m.AdminOnly()...)

	w := get(r, "/", map[string]string{"Authorization": "Bearer admin-token"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireRoleWithoutAuth(t *testing.T) {
	m := NewAuthMiddleware(testTokens, stubRoles{})
	r := gin.New()
	r.GET("/", m.RequireRole(auth.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(RequestLogger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := get(r, "/ok", map[string]string{headerRequestID: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(headerRequestID))

	w = get(r, "/missing", nil)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/", func(c *gin.Context) { MustGetIdentityID(c) })

	w := get(r, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestCORS(t *testing.T) {
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }

	t.Run("wildcard", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS(nil))
		r.GET("/", handler)

		w := get(r, "/", map[string]string{"Origin": "https://shop.example.com"})
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allow list", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS([]string{"https://shop.example.com"}))
		r.GET("/", handler)

		w := get(r, "/", map[string]string{"Origin": "https://shop.example.com"})
		assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

		w = get(r, "/", map[string]string{"Origin": "https://evil.example.com"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
