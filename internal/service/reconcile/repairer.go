package reconcile

import (
	"context"
	"errors"

	"storefront-service/internal/domain/auth"
	"storefront-service/internal/metrics"
	xerrors "storefront-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Repairer makes sure an identity has a role record and a profile record.
// Every method logs failures and reports a bool; none of them return errors.
// All writes are insert-if-absent, so concurrent or repeated runs converge.
type Repairer struct {
	roles      auth.RoleRepository
	profiles   auth.ProfileRepository
	procedure  auth.RepairProcedure
	identities auth.IdentityReader
	logger     *zap.Logger
	metrics    metrics.Recorder
}

func NewRepairer(
	roles auth.RoleRepository,
	profiles auth.ProfileRepository,
	procedure auth.RepairProcedure,
	identities auth.IdentityReader,
	logger *zap.Logger,
	rec metrics.Recorder,
) *Repairer {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Repairer{
		roles:      roles,
		profiles:   profiles,
		procedure:  procedure,
		identities: identities,
		logger:     logger,
		metrics:    rec,
	}
}

// VerifyConsistency creates whatever is missing and reports whether both
// records are present afterwards. The requested role from registration is
// only applied when the role record is created here.
func (r *Repairer) VerifyConsistency(ctx context.Context, userID string) bool {
	log := r.logger.With(zap.String("user_id", userID))

	roleOK := r.ensureRole(ctx, userID, log)
	profileOK := r.ensureProfile(ctx, userID, log)

	ok := roleOK && profileOK
	r.metrics.RecordConsistencyCheck(ok)
	if !ok {
		log.Warn("account inconsistent after verification",
			zap.Bool("role_ok", roleOK),
			zap.Bool("profile_ok", profileOK))
	}
	return ok
}

func (r *Repairer) ensureRole(ctx context.Context, userID string, log *zap.Logger) bool {
	_, err := r.roles.FindByUserID(ctx, userID)
	if err == nil {
		return true
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		log.Error("failed to check role record", zap.Error(err))
		return false
	}

	hint := r.requestedRole(ctx, userID, log)
	_, err = r.roles.InsertIfAbsent(ctx, &auth.RoleRecord{UserID: userID, Role: hint})
	if err == nil {
		log.Info("created missing role record", zap.String("role", hint.String()))
		return true
	}
	log.Warn("failed to create role record, running repair procedure", zap.Error(err))

	if !r.runProcedure(ctx, userID, log) {
		return false
	}
	if hint != auth.DefaultRole {
		if err := r.roles.UpdateRole(ctx, userID, hint); err != nil {
			log.Warn("failed to apply requested role after repair",
				zap.String("role", hint.String()),
				zap.Error(err))
		}
	}
	return true
}

func (r *Repairer) ensureProfile(ctx context.Context, userID string, log *zap.Logger) bool {
	_, err := r.profiles.FindByID(ctx, userID)
	if err == nil {
		return true
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		log.Error("failed to check profile record", zap.Error(err))
		return false
	}

	if err = r.profiles.Upsert(ctx, &auth.ProfileRecord{ID: userID}); err == nil {
		log.Info("created missing profile record")
		return true
	}
	log.Warn("failed to create profile record, running repair procedure", zap.Error(err))

	return r.runProcedure(ctx, userID, log)
}

// RepairEntries rebuilds the role and profile records. The backend
// procedure is tried first; when it fails the records are rebuilt one by
// one. Reports whether a usable role exists afterwards.
func (r *Repairer) RepairEntries(ctx context.Context, userID string) bool {
	log := r.logger.With(zap.String("user_id", userID))
	hint := r.requestedRole(ctx, userID, log)

	if r.runProcedure(ctx, userID, log) {
		if hint != auth.DefaultRole {
			if err := r.roles.UpdateRole(ctx, userID, hint); err != nil {
				log.Error("failed to apply requested role after repair",
					zap.String("role", hint.String()),
					zap.Error(err))
				r.metrics.RecordRepair(metrics.PathProcedure, false)
				return false
			}
		}
		ok := r.hasUsableRole(ctx, userID, log)
		r.metrics.RecordRepair(metrics.PathProcedure, ok)
		return ok
	}

	ok := r.manualRepair(ctx, userID, hint, log)
	r.metrics.RecordRepair(metrics.PathManual, ok)
	return ok
}

func (r *Repairer) manualRepair(ctx context.Context, userID string, hint auth.Role, log *zap.Logger) bool {
	log.Warn("repair procedure unavailable, rebuilding records directly")

	if err := r.roles.DeleteByUserID(ctx, userID); err != nil {
		log.Error("failed to clear role records", zap.Error(err))
		return false
	}
	if _, err := r.roles.InsertIfAbsent(ctx, &auth.RoleRecord{UserID: userID, Role: hint}); err != nil {
		log.Error("failed to recreate role record", zap.Error(err))
		return false
	}
	if err := r.profiles.Upsert(ctx, &auth.ProfileRecord{ID: userID}); err != nil {
		log.Error("failed to recreate profile record", zap.Error(err))
		return false
	}
	return r.hasUsableRole(ctx, userID, log)
}

// CheckExists reports whether the profile record exists. It does not look
// at the role record.
func (r *Repairer) CheckExists(ctx context.Context, userID string) bool {
	_, err := r.profiles.FindByID(ctx, userID)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		r.logger.Error("failed to check profile record", zap.String("user_id", userID), zap.Error(err))
	}
	return err == nil
}

func (r *Repairer) runProcedure(ctx context.Context, userID string, log *zap.Logger) bool {
	ok, err := r.procedure.RepairUserEntries(ctx, userID)
	if err != nil {
		log.Error("repair procedure failed", zap.Error(err))
		return false
	}
	if !ok {
		log.Error("repair procedure failed", zap.Error(xerrors.ErrRepairFailed))
		return false
	}
	return true
}

func (r *Repairer) hasUsableRole(ctx context.Context, userID string, log *zap.Logger) bool {
	rows, err := r.roles.FindByUserID(ctx, userID)
	if err != nil {
		log.Error("no role record after repair", zap.Error(err))
		return false
	}
	latest := LatestRole(rows)
	return latest != nil && latest.Role.Valid()
}

// requestedRole returns the valid role_request from registration metadata,
// or the default role.
func (r *Repairer) requestedRole(ctx context.Context, userID string, log *zap.Logger) auth.Role {
	identity, err := r.identities.FindIdentityByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, xerrors.ErrNotFound) {
			log.Warn("failed to read registration metadata", zap.Error(err))
		}
		return auth.DefaultRole
	}

	if role, ok := identity.RequestedRole(); ok {
		return role
	}
	if raw, ok := identity.MetaString(auth.MetaRoleRequest); ok {
		log.Warn("ignoring invalid requested role", zap.String("role_request", raw))
	}
	return auth.DefaultRole
}
