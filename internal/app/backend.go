// internal/app/backend.go
package app

import (
	"context"
	"fmt"

	"storefront-service/internal/config"
	"storefront-service/internal/db"
	"storefront-service/internal/domain/auth"
	"storefront-service/internal/metrics"
	"storefront-service/internal/repository/memory"
	"storefront-service/internal/repository/postgres"
	"storefront-service/internal/service/reconcile"

	"go.uber.org/zap"
)

// Backend is the account storage plus the consistency services built on
// it. The API server and storefrontctl share it.
type Backend struct {
	Credentials auth.CredentialRepository
	Roles       auth.RoleRepository
	Profiles    auth.ProfileRepository
	Procedure   auth.RepairProcedure

	Resolver *reconcile.RoleResolver
	Repairer *reconcile.Repairer

	close func()
}

// NewBackend opens the configured storage driver. With postgres it also
// applies pending migrations when MIGRATE_ON_START is set.
func NewBackend(ctx context.Context, cfg config.AppConfig, logger *zap.Logger, rec metrics.Recorder) (*Backend, error) {
	b := &Backend{close: func() {}}

	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage, accounts are lost on restart")
		store := memory.NewStore()
		b.Credentials = memory.NewAuthRepository(store)
		b.Roles = memory.NewRoleRepository(store)
		b.Profiles = memory.NewProfileRepository(store)
		b.Procedure = memory.NewRepairRepository(store)

	case config.StoragePostgres:
		if cfg.MigrateOnStart {
			if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			logger.Info("database migrations applied")
		}

		pool, err := db.ConnectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		b.Credentials = postgres.NewAuthRepository(pool)
		b.Roles = postgres.NewRoleRepository(pool)
		b.Profiles = postgres.NewProfileRepository(pool)
		b.Procedure = postgres.NewRepairRepository(pool)
		b.close = pool.Close

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	b.Resolver = reconcile.NewRoleResolver(b.Roles, logger, rec)
	b.Repairer = reconcile.NewRepairer(b.Roles, b.Profiles, b.Procedure, b.Credentials, logger, rec)
	return b, nil
}

// Close releases the storage connections.
func (b *Backend) Close() {
	b.close()
}
