package reconcile

import (
	"context"
	"errors"
	"fmt"

	"storefront-service/internal/domain/auth"
	"storefront-service/internal/metrics"
	xerrors "storefront-service/internal/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RoleResolver looks up a user's effective role and creates the default one
// on first sight. Concurrent lookups for the same user share one query.
type RoleResolver struct {
	roles   auth.RoleRepository
	logger  *zap.Logger
	metrics metrics.Recorder
	group   singleflight.Group
}

func NewRoleResolver(roles auth.RoleRepository, logger *zap.Logger, rec metrics.Recorder) *RoleResolver {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &RoleResolver{
		roles:   roles,
		logger:  logger,
		metrics: rec,
	}
}

// Resolve returns the newest role of userID.
func (r *RoleResolver) Resolve(ctx context.Context, userID string) (auth.Role, error) {
	// Waiters share one call, so it is detached from the first caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(userID, func() (interface{}, error) {
		return r.resolve(shared, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(auth.Role), nil
}

func (r *RoleResolver) resolve(ctx context.Context, userID string) (auth.Role, error) {
	rows, err := r.roles.FindByUserID(ctx, userID)
	if err == nil {
		if latest := LatestRole(rows); latest != nil {
			r.metrics.RecordRoleResolution(metrics.OutcomeFound)
			return latest.Role, nil
		}
		err = xerrors.ErrNotFound
	}

	if !errors.Is(err, xerrors.ErrNotFound) {
		r.metrics.RecordRoleResolution(metrics.OutcomeFailed)
		r.logger.Error("failed to fetch role", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("failed to fetch role: %w", err)
	}

	rec, err := r.roles.InsertIfAbsent(ctx, &auth.RoleRecord{UserID: userID, Role: auth.DefaultRole})
	if err != nil {
		r.metrics.RecordRoleResolution(metrics.OutcomeFailed)
		r.logger.Error("failed to create default role", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("failed to create default role: %w", err)
	}

	r.metrics.RecordRoleResolution(metrics.OutcomeCreated)
	r.logger.Info("created default role",
		zap.String("user_id", userID),
		zap.String("role", rec.Role.String()))
	return rec.Role, nil
}

// LatestRole picks the record with the greatest CreatedAt regardless of the
// order storage returned. Equal timestamps fall back to the greater ID.
func LatestRole(rows []*auth.RoleRecord) *auth.RoleRecord {
	var latest *auth.RoleRecord
	for _, row := range rows {
		if row == nil {
			continue
		}
		if latest == nil || newerRole(row, latest) {
			latest = row
		}
	}
	return latest
}

func newerRole(a, b *auth.RoleRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
