// internal/websocket/handler/reconcile.go
package handlers

import (
	"context"
	"fmt"
	"time"

	"storefront-service/internal/domain/auth"
	wstypes "storefront-service/internal/domain/websocket"
	"storefront-service/internal/pkg/session"
	"storefront-service/internal/service/reconcile"
	ws "storefront-service/internal/websocket"

	"go.uber.org/zap"
)

// ReconcileHandler serves the reconciler and repair commands of a
// connection. Every command acts on the connection's own identity.
type ReconcileHandler struct {
	repairer     *reconcile.Repairer
	limiter      session.ActionLimiter
	repairLimit  int64
	repairWindow time.Duration
	logger       *zap.Logger
}

func NewReconcileHandler(
	repairer *reconcile.Repairer,
	limiter session.ActionLimiter,
	repairLimit int64,
	repairWindow time.Duration,
	logger *zap.Logger,
) *ReconcileHandler {
	return &ReconcileHandler{
		repairer:     repairer,
		limiter:      limiter,
		repairLimit:  repairLimit,
		repairWindow: repairWindow,
		logger:       logger,
	}
}

// SupportedEvents returns events this handler supports
func (h *ReconcileHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{
		wstypes.EventTypeResolveRole,
		wstypes.EventTypeVerifyConsistency,
		wstypes.EventTypeRepairEntries,
		wstypes.EventTypeCheckExists,
		wstypes.EventTypeClearErrors,
		wstypes.EventTypeReinitialize,
		wstypes.EventTypeSignOut,
		wstypes.EventTypeRefreshSession,
	}
}

// HandleMessage processes reconciler messages
func (h *ReconcileHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	switch msg.Type {
	case wstypes.EventTypeResolveRole:
		return h.handleResolveRole(ctx, client, msg)

	case wstypes.EventTypeVerifyConsistency:
		userID := client.GetIdentityID()
		client.SendMessage(wstypes.Reply(msg, wstypes.ConsistencyData{
			UserID: userID,
			OK:     h.repairer.VerifyConsistency(ctx, userID),
		}))
		return nil

	case wstypes.EventTypeRepairEntries:
		return h.handleRepair(ctx, client, msg)

	case wstypes.EventTypeCheckExists:
		userID := client.GetIdentityID()
		client.SendMessage(wstypes.Reply(msg, wstypes.ConsistencyData{
			UserID: userID,
			OK:     h.repairer.CheckExists(ctx, userID),
		}))
		return nil

	case wstypes.EventTypeClearErrors:
		client.Reconciler().ClearErrors()
		client.SendMessage(wstypes.Reply(msg, nil))
		return nil

	case wstypes.EventTypeReinitialize:
		if err := client.Reconciler().Reinitialize(ctx); err != nil {
			client.SendError("reinitialize_failed", "Session check failed", err.Error())
			return nil
		}
		client.SendMessage(wstypes.Reply(msg, nil))
		return nil

	case wstypes.EventTypeSignOut:
		if err := client.Session().SignOut(ctx); err != nil {
			client.SendError("sign_out_failed", "Failed to sign out", err.Error())
			return nil
		}
		client.SendMessage(wstypes.Reply(msg, nil))
		return nil

	case wstypes.EventTypeRefreshSession:
		return h.handleRefresh(ctx, client, msg)

	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

// handleResolveRole resolves the caller's role on demand
func (h *ReconcileHandler) handleResolveRole(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req wstypes.UserRequest
	if err := ws.DecodeData(msg.Data, &req); err != nil {
		client.SendError("invalid_request", "Invalid resolve role request", err.Error())
		return nil
	}

	userID := client.GetIdentityID()
	if req.UserID != "" && req.UserID != userID {
		client.SendError("forbidden", "Roles can only be resolved for the signed-in user", "")
		return nil
	}

	role, ok := client.Reconciler().ResolveRole(ctx, userID)
	data := wstypes.RoleData{UserID: userID, Resolved: ok}
	if ok {
		data.Role = role
		data.Destination = string(reconcile.DestinationFor(role.String()))
	}
	client.SendMessage(wstypes.Reply(msg, data))
	return nil
}

// handleRefresh rotates the connection's tokens and hands the new pair back
func (h *ReconcileHandler) handleRefresh(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req wstypes.RefreshData
	if err := ws.DecodeData(msg.Data, &req); err != nil {
		client.SendError("invalid_request", "Invalid refresh request", err.Error())
		return nil
	}

	sess, err := client.Session().RefreshSession(ctx, req.RefreshToken)
	if err != nil {
		client.SendError("refresh_failed", "Failed to refresh session", err.Error())
		return nil
	}
	client.SendMessage(wstypes.Reply(msg, auth.NewLoginResponse(sess)))
	return nil
}

// handleRepair runs the full repair, rate limited per identity
func (h *ReconcileHandler) handleRepair(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	userID := client.GetIdentityID()

	allowed, err := h.limiter.CheckActionLimit(ctx, userID, session.ActionRepair, h.repairLimit, h.repairWindow)
	if err != nil {
		h.logger.Error("repair rate limiter failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	if !allowed {
		client.SendError("rate_limited", "Too many repair requests", "")
		return nil
	}

	client.SendMessage(wstypes.Reply(msg, wstypes.ConsistencyData{
		UserID: userID,
		OK:     h.repairer.RepairEntries(ctx, userID),
	}))
	return nil
}
