// internal/handlers/account/account_handler.go
package account

import (
	"net/http"
	"time"

	"storefront-service/internal/domain/auth"
	"storefront-service/internal/middleware"
	"storefront-service/internal/pkg/response"
	"storefront-service/internal/pkg/session"
	"storefront-service/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccountHandler exposes the consistency operations over HTTP.
type AccountHandler struct {
	repairer     *reconcile.Repairer
	resolver     *reconcile.RoleResolver
	limiter      session.ActionLimiter
	repairLimit  int64
	repairWindow time.Duration
	logger       *zap.Logger
}

func NewAccountHandler(
	repairer *reconcile.Repairer,
	resolver *reconcile.RoleResolver,
	limiter session.ActionLimiter,
	repairLimit int64,
	repairWindow time.Duration,
	logger *zap.Logger,
) *AccountHandler {
	return &AccountHandler{
		repairer:     repairer,
		resolver:     resolver,
		limiter:      limiter,
		repairLimit:  repairLimit,
		repairWindow: repairWindow,
		logger:       logger,
	}
}

// Verify creates the caller's missing role or profile record
func (h *AccountHandler) Verify(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)
	ok := h.repairer.VerifyConsistency(c.Request.Context(), userID)
	respondConsistency(c, userID, ok, "account consistent", "account inconsistent")
}

// Repair runs the full repair for the caller, rate limited per identity
func (h *AccountHandler) Repair(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	allowed, err := h.limiter.CheckActionLimit(c.Request.Context(), userID, session.ActionRepair, h.repairLimit, h.repairWindow)
	if err != nil {
		h.logger.Error("repair rate limiter failed", zap.String("user_id", userID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "repair unavailable", err)
		return
	}
	if !allowed {
		response.Error(c, http.StatusTooManyRequests, "too many repair requests", nil)
		return
	}

	ok := h.repairer.RepairEntries(c.Request.Context(), userID)
	respondConsistency(c, userID, ok, "account repaired", "account repair failed")
}

// RepairUser repairs another account (admin only)
func (h *AccountHandler) RepairUser(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		response.ValidationError(c, "user id required", nil)
		return
	}

	h.logger.Info("admin repair requested",
		zap.String("admin_id", middleware.MustGetIdentityID(c)),
		zap.String("user_id", userID))

	ok := h.repairer.RepairEntries(c.Request.Context(), userID)
	respondConsistency(c, userID, ok, "account repaired", "account repair failed")
}

// Exists reports whether the caller has a profile record
func (h *AccountHandler) Exists(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)
	response.Success(c, http.StatusOK, "profile checked", auth.ConsistencyResponse{
		UserID: userID,
		OK:     h.repairer.CheckExists(c.Request.Context(), userID),
	})
}

// Destination returns the landing view for the caller's role
func (h *AccountHandler) Destination(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	role, err := h.resolver.Resolve(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, "failed to resolve role", err)
		return
	}

	view := reconcile.DestinationFor(role.String())
	response.Success(c, http.StatusOK, "destination resolved", auth.DestinationResponse{
		Role:        role,
		Destination: string(view),
		Path:        view.Path(),
	})
}

func respondConsistency(c *gin.Context, userID string, ok bool, okMsg, failMsg string) {
	body := auth.ConsistencyResponse{UserID: userID, OK: ok}
	if !ok {
		response.Error(c, http.StatusConflict, failMsg, nil, body)
		return
	}
	response.Success(c, http.StatusOK, okMsg, body)
}
