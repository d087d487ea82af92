// internal/app/router.go
package app

import (
	"net/http"

	accountHandler "storefront-service/internal/handlers/account"
	authHandler "storefront-service/internal/handlers/auth"
	wsHandler "storefront-service/internal/handlers/websocket"
	"storefront-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	AuthHandler    *authHandler.AuthHandler
	AccountHandler *accountHandler.AccountHandler
	WSHandler      *wsHandler.WebSocketHandler
	AuthMiddleware *middleware.AuthMiddleware
	Metrics        http.Handler
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Metrics ====================
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/signup", h.AuthHandler.SignUp)
		authPublic.POST("/login", h.AuthHandler.Login)
		authPublic.POST("/refresh", h.AuthHandler.Refresh)
	}

	// ==================== Authenticated Auth Routes ====================
	authProtected := api.Group("/auth")
	authProtected.Use(h.AuthMiddleware.Auth())
	{
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.POST("/logout-all", h.AuthHandler.LogoutAll)
		authProtected.GET("/session", h.AuthHandler.Session)
		authProtected.GET("/sessions", h.AuthHandler.ActiveSessions)
		authProtected.PATCH("/metadata", h.AuthHandler.UpdateMetadata)
	}

	// ==================== Account Consistency ====================
	account := api.Group("/account")
	account.Use(h.AuthMiddleware.Auth())
	{
		account.POST("/verify", h.AccountHandler.Verify)
		account.POST("/repair", h.AccountHandler.Repair)
		account.GET("/exists", h.AccountHandler.Exists)
		account.GET("/destination", h.AccountHandler.Destination)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.POST("/accounts/:id/repair", h.AccountHandler.RepairUser)
		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}
}
