package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type RepairRepository struct {
	db *pgxpool.Pool
}

func NewRepairRepository(db *pgxpool.Pool) *RepairRepository {
	return &RepairRepository{db: db}
}

// RepairUserEntries runs the repair_user_entries database function, which
// recreates the default role and minimal profile atomically.
func (r *RepairRepository) RepairUserEntries(ctx context.Context, userID string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, `SELECT repair_user_entries($1)`, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to run repair procedure: %w", err)
	}
	return ok, nil
}
