// internal/repository/postgres/auth_repo.go
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

type AuthRepository struct {
	db *pgxpool.Pool
}

func NewAuthRepository(db *pgxpool.Pool) *AuthRepository {
	return &AuthRepository{db: db}
}

// CreateCredential inserts a new login record. Email is matched
// case-insensitively by the unique index.
func (r *AuthRepository) CreateCredential(ctx context.Context, c *auth.Credential) error {
	query := `
		INSERT INTO auth_identities (id, email, password_hash, metadata)
		VALUES ($1, LOWER($2), $3, $4)
		RETURNING created_at, updated_at
	`

	metadata, err := json.Marshal(nonNilMap(c.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	err = r.db.QueryRow(ctx, query, c.ID, c.Email, c.PasswordHash, metadata).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// FindCredentialByEmail retrieves a credential by email
func (r *AuthRepository) FindCredentialByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	query := `
		SELECT id, email, password_hash, metadata, created_at, updated_at
		FROM auth_identities
		WHERE email = LOWER($1)
	`

	var c auth.Credential
	var metadata []byte
	err := r.db.QueryRow(ctx, query, email).Scan(
		&c.ID, &c.Email, &c.PasswordHash, &metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}

	if err := unmarshalMap(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

// MergeMetadata overlays metadata onto the stored registration metadata
func (r *AuthRepository) MergeMetadata(ctx context.Context, id string, metadata map[string]interface{}) error {
	query := `
		UPDATE auth_identities
		SET metadata = metadata || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`

	data, err := json.Marshal(nonNilMap(metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := r.db.Exec(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// FindIdentityByID retrieves the public identity for id
func (r *AuthRepository) FindIdentityByID(ctx context.Context, id string) (*auth.Identity, error) {
	query := `
		SELECT id, email, metadata, created_at
		FROM auth_identities
		WHERE id = $1
	`

	var identity auth.Identity
	var metadata []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&identity.ID, &identity.Email, &metadata, &identity.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if err := unmarshalMap(metadata, &identity.Metadata); err != nil {
		return nil, err
	}
	return &identity, nil
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func unmarshalMap(data []byte, dst *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}
