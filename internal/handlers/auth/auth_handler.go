// internal/handlers/auth/auth_handler.go
package auth

import (
	"net/http"

	"storefront-service/internal/domain/auth"
	"storefront-service/internal/middleware"
	"storefront-service/internal/pkg/response"
	authUsecase "storefront-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// ========== Registration ==========

// SignUp handles account registration (public endpoint)
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req auth.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	sess, err := h.authService.SignUp(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("registration failed",
			zap.String("email", req.Email),
			zap.Error(err),
		)
		response.FromError(c, "registration failed", err)
		return
	}

	response.Success(c, http.StatusCreated, "registration successful", auth.NewLoginResponse(sess))
}

// ========== Login ==========

// Login handles password sign-in
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	sess, err := h.authService.SignInWithPassword(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("login failed",
			zap.String("email", req.Email),
			zap.String("ip", req.IPAddress),
			zap.Error(err),
		)
		response.FromError(c, "login failed", err)
		return
	}

	h.logger.Info("user logged in",
		zap.String("identity_id", sess.Identity.ID),
		zap.String("session_id", sess.ID),
	)

	response.Success(c, http.StatusOK, "login successful", auth.NewLoginResponse(sess))
}

// Refresh exchanges a refresh token for a new token pair
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	sess, err := h.authService.RefreshSession(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.FromError(c, "refresh failed", err)
		return
	}

	response.Success(c, http.StatusOK, "session refreshed", auth.NewLoginResponse(sess))
}

// ========== Logout ==========

// Logout ends the current session (requires auth)
func (h *AuthHandler) Logout(c *gin.Context) {
	identityID := middleware.MustGetIdentityID(c)
	token := middleware.MustGetAccessToken(c)

	if err := h.authService.SignOut(c.Request.Context(), token); err != nil {
		h.logger.Error("logout failed",
			zap.String("identity_id", identityID),
			zap.Error(err),
		)
		response.FromError(c, "logout failed", err)
		return
	}

	response.Success(c, http.StatusOK, "logout successful", nil)
}

// LogoutAll ends every session of the caller (requires auth)
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	identityID := middleware.MustGetIdentityID(c)

	if err := h.authService.SignOutEverywhere(c.Request.Context(), identityID); err != nil {
		response.FromError(c, "logout all failed", err)
		return
	}

	response.Success(c, http.StatusOK, "all sessions logged out", nil)
}

// ========== Session ==========

// Session returns the identity behind the bearer token (requires auth)
func (h *AuthHandler) Session(c *gin.Context) {
	sess, err := h.authService.GetSession(c.Request.Context(), middleware.MustGetAccessToken(c))
	if err != nil {
		response.FromError(c, "failed to load session", err)
		return
	}
	if sess == nil {
		response.Error(c, http.StatusUnauthorized, "session expired", nil)
		return
	}

	response.Success(c, http.StatusOK, "session retrieved", gin.H{
		"session_id": sess.ID,
		"expires_at": sess.ExpiresAt,
		"user":       sess.Identity,
	})
}

// ActiveSessions lists the caller's live sessions (requires auth)
func (h *AuthHandler) ActiveSessions(c *gin.Context) {
	sessions, err := h.authService.GetActiveSessions(c.Request.Context(), middleware.MustGetIdentityID(c))
	if err != nil {
		response.FromError(c, "failed to list sessions", err)
		return
	}

	response.Success(c, http.StatusOK, "sessions retrieved", sessions)
}

// UpdateMetadata merges the request body into the caller's metadata
func (h *AuthHandler) UpdateMetadata(c *gin.Context) {
	var metadata map[string]interface{}
	if err := c.ShouldBindJSON(&metadata); err != nil || len(metadata) == 0 {
		response.ValidationError(c, "metadata object required", err)
		return
	}

	identity, err := h.authService.UpdateMetadata(c.Request.Context(), middleware.MustGetIdentityID(c), metadata)
	if err != nil {
		response.FromError(c, "failed to update metadata", err)
		return
	}

	response.Success(c, http.StatusOK, "metadata updated", identity)
}
