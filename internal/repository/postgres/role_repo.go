package postgres

import (
	"context"
	"errors"
	"fmt"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

type RoleRepository struct {
	db *pgxpool.Pool
}

func NewRoleRepository(db *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{db: db}
}

const selectRolesByUser = `
	SELECT id, user_id, role, created_at
	FROM user_roles
	WHERE user_id = $1
	ORDER BY created_at DESC, id DESC
`

// FindByUserID returns every role row for the user, newest first.
func (r *RoleRepository) FindByUserID(ctx context.Context, userID string) ([]*auth.RoleRecord, error) {
	rows, err := r.db.Query(ctx, selectRolesByUser, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var records []*auth.RoleRecord
	for rows.Next() {
		var rec auth.RoleRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Role, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	if len(records) == 0 {
		return nil, xerrors.ErrNotFound
	}
	return records, nil
}

// InsertIfAbsent serialises writers for the same user on an advisory lock so
// concurrent first sign-ins create a single row.
func (r *RoleRepository) InsertIfAbsent(ctx context.Context, rec *auth.RoleRecord) (*auth.RoleRecord, error) {
	if !rec.Role.Valid() {
		return nil, fmt.Errorf("role %q: %w", rec.Role, xerrors.ErrInvalidInput)
	}

	var result auth.RoleRecord
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.UserID); err != nil {
			return fmt.Errorf("failed to lock user roles: %w", err)
		}

		err := tx.QueryRow(ctx, selectRolesByUser+" LIMIT 1", rec.UserID).
			Scan(&result.ID, &result.UserID, &result.Role, &result.CreatedAt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to check existing role: %w", err)
		}

		id := rec.ID
		if id == "" {
			id = ulid.Make().String()
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO user_roles (id, user_id, role)
			VALUES ($1, $2, $3)
			RETURNING id, user_id, role, created_at
		`, id, rec.UserID, rec.Role).Scan(&result.ID, &result.UserID, &result.Role, &result.CreatedAt)
		if isUniqueViolation(err) {
			return xerrors.ErrDuplicateEntry
		}
		if err != nil {
			return fmt.Errorf("failed to insert role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateRole rewrites every row of the user to role.
func (r *RoleRepository) UpdateRole(ctx context.Context, userID string, role auth.Role) error {
	if !role.Valid() {
		return fmt.Errorf("role %q: %w", role, xerrors.ErrInvalidInput)
	}

	result, err := r.db.Exec(ctx, `UPDATE user_roles SET role = $2 WHERE user_id = $1`, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// DeleteByUserID removes all role rows of the user
func (r *RoleRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete roles: %w", err)
	}
	return nil
}
