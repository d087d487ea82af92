package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProfileRepository struct {
	db *pgxpool.Pool
}

func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindByID retrieves a profile by identity id
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*auth.ProfileRecord, error) {
	query := `
		SELECT id, attributes, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`

	var p auth.ProfileRecord
	var attrs []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &attrs, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	if err := unmarshalMap(attrs, &p.Attributes); err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert creates the profile if missing. An existing profile keeps its
// attributes.
func (r *ProfileRepository) Upsert(ctx context.Context, p *auth.ProfileRecord) error {
	query := `
		INSERT INTO profiles (id, attributes)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`

	attrs, err := json.Marshal(nonNilMap(p.Attributes))
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, p.ID, attrs); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
