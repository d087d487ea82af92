// internal/handlers/websocket/websocket.go
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"storefront-service/internal/config"
	"storefront-service/internal/identity"
	"storefront-service/internal/metrics"
	"storefront-service/internal/middleware"
	"storefront-service/internal/pkg/response"
	"storefront-service/internal/service/reconcile"
	ws "storefront-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sessionCheckTimeout = 10 * time.Second

type WebSocketHandler struct {
	hub      *ws.Hub
	tokens   middleware.TokenValidator
	authn    identity.Authenticator
	events   identity.EventSource
	resolver *reconcile.RoleResolver
	retry    config.RetryConfig
	metrics  metrics.Recorder
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWebSocketHandler(
	hub *ws.Hub,
	tokens middleware.TokenValidator,
	authn identity.Authenticator,
	events identity.EventSource,
	resolver *reconcile.RoleResolver,
	retry config.RetryConfig,
	allowedOrigins []string,
	rec metrics.Recorder,
	logger *zap.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		tokens:   tokens,
		authn:    authn,
		events:   events,
		resolver: resolver,
		retry:    retry,
		metrics:  rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// HandleConnection authenticates the caller, upgrades the connection and
// attaches a reconciler that mirrors the caller's session.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	token := extractToken(c)
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "missing authentication token", nil)
		return
	}

	claims, err := h.tokens.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("websocket authentication failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		response.Error(c, http.StatusUnauthorized, "authentication failed", err)
		return
	}

	log := h.logger.With(
		zap.String("identity_id", claims.IdentityID),
		zap.String("session_id", claims.SessionID),
	)

	session := identity.NewClient(h.authn, h.events, log)
	if err := session.Restore(c.Request.Context(), token); err != nil {
		session.Close()
		log.Warn("websocket session restore failed", zap.Error(err))
		response.FromError(c, "authentication failed", err)
		return
	}

	reconciler := reconcile.NewReconciler(session, h.resolver, h.retry, reconcile.SystemClock(), log, h.metrics)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		reconciler.Close()
		session.Close()
		log.Error("websocket upgrade failed", zap.Error(err), zap.String("ip", c.ClientIP()))
		return
	}

	client := ws.NewClient(h.hub, conn, &ws.ClientAuth{
		IdentityID: claims.IdentityID,
		SessionID:  claims.SessionID,
		Device:     claims.Device,
	}, session, reconciler)

	if !h.hub.Register(client) {
		client.Close()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ForwardState()

	ctx, cancel := context.WithTimeout(context.Background(), sessionCheckTimeout)
	defer cancel()
	if err := reconciler.Start(ctx); err != nil {
		// state already reports the failure; the client may reinitialize
		log.Warn("initial session check failed", zap.Error(err))
	}

	go client.ReadPump()
}

// GetStats returns WebSocket connection statistics (admin only)
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	response.Success(c, http.StatusOK, "WebSocket stats", map[string]interface{}{
		"total_connections": h.hub.TotalClients(),
		"supported_events":  h.hub.SupportedEvents(),
		"timestamp":         time.Now(),
	})
}

// extractToken extracts token from query param or Authorization header
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}

	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
