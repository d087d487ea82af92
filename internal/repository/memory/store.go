// Package memory keeps accounts in process memory. It backs the memory
// storage driver and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-service/internal/domain/auth"
	xerrors "storefront-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
)

// Store holds every table behind one lock.
type Store struct {
	mu          sync.Mutex
	credentials map[string]*auth.Credential // by id
	roles       map[string][]*auth.RoleRecord
	profiles    map[string]*auth.ProfileRecord
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		credentials: make(map[string]*auth.Credential),
		roles:       make(map[string][]*auth.RoleRecord),
		profiles:    make(map[string]*auth.ProfileRecord),
		now:         time.Now,
	}
}

// SeedRole stores rec as is, duplicates included.
func (s *Store) SeedRole(rec auth.RoleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.roles[rec.UserID] = append(s.roles[rec.UserID], &rec)
}

// RoleCount returns how many role rows the user has.
func (s *Store) RoleCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roles[userID])
}

// DeleteProfile drops the profile row of id.
func (s *Store) DeleteProfile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, id)
}

type AuthRepository struct{ s *Store }

func NewAuthRepository(s *Store) *AuthRepository { return &AuthRepository{s: s} }

func (r *AuthRepository) CreateCredential(_ context.Context, c *auth.Credential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email := strings.ToLower(c.Email)
	for _, existing := range r.s.credentials {
		if existing.Email == email {
			return xerrors.ErrDuplicateEntry
		}
	}

	cp := *c
	cp.Email = email
	cp.Metadata = copyMap(c.Metadata)
	cp.CreatedAt = r.s.now()
	cp.UpdatedAt = cp.CreatedAt
	r.s.credentials[cp.ID] = &cp

	c.Email, c.CreatedAt, c.UpdatedAt = cp.Email, cp.CreatedAt, cp.UpdatedAt
	return nil
}

func (r *AuthRepository) FindCredentialByEmail(_ context.Context, email string) (*auth.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email = strings.ToLower(email)
	for _, c := range r.s.credentials {
		if c.Email == email {
			cp := *c
			cp.Metadata = copyMap(c.Metadata)
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (r *AuthRepository) MergeMetadata(_ context.Context, id string, metadata map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.credentials[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	merged := copyMap(c.Metadata)
	if merged == nil {
		merged = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		merged[k] = v
	}
	c.Metadata = merged
	c.UpdatedAt = r.s.now()
	return nil
}

func (r *AuthRepository) FindIdentityByID(_ context.Context, id string) (*auth.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.credentials[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &auth.Identity{
		ID:        c.ID,
		Email:     c.Email,
		Metadata:  copyMap(c.Metadata),
		CreatedAt: c.CreatedAt,
	}, nil
}

type RoleRepository struct{ s *Store }

func NewRoleRepository(s *Store) *RoleRepository { return &RoleRepository{s: s} }

func (r *RoleRepository) FindByUserID(_ context.Context, userID string) ([]*auth.RoleRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rows := r.s.roles[userID]
	if len(rows) == 0 {
		return nil, xerrors.ErrNotFound
	}
	out := make([]*auth.RoleRecord, 0, len(rows))
	for _, rec := range rows {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *RoleRepository) InsertIfAbsent(_ context.Context, rec *auth.RoleRecord) (*auth.RoleRecord, error) {
	if !rec.Role.Valid() {
		return nil, xerrors.ErrInvalidInput
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rows := r.s.roles[rec.UserID]; len(rows) > 0 {
		newest := rows[0]
		for _, row := range rows[1:] {
			if row.CreatedAt.After(newest.CreatedAt) {
				newest = row
			}
		}
		cp := *newest
		return &cp, nil
	}

	cp := *rec
	if cp.ID == "" {
		cp.ID = ulid.Make().String()
	}
	cp.CreatedAt = r.s.now()
	r.s.roles[rec.UserID] = []*auth.RoleRecord{&cp}
	out := cp
	return &out, nil
}

func (r *RoleRepository) UpdateRole(_ context.Context, userID string, role auth.Role) error {
	if !role.Valid() {
		return xerrors.ErrInvalidInput
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rows := r.s.roles[userID]
	if len(rows) == 0 {
		return xerrors.ErrNotFound
	}
	for _, row := range rows {
		row.Role = role
	}
	return nil
}

func (r *RoleRepository) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.roles, userID)
	return nil
}

type ProfileRepository struct{ s *Store }

func NewProfileRepository(s *Store) *ProfileRepository { return &ProfileRepository{s: s} }

func (r *ProfileRepository) FindByID(_ context.Context, id string) (*auth.ProfileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *p
	cp.Attributes = copyMap(p.Attributes)
	return &cp, nil
}

func (r *ProfileRepository) Upsert(_ context.Context, p *auth.ProfileRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.profiles[p.ID]; ok {
		return nil
	}
	now := r.s.now()
	r.s.profiles[p.ID] = &auth.ProfileRecord{
		ID:         p.ID,
		Attributes: copyMap(p.Attributes),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

// RepairRepository mirrors the repair_user_entries database function.
type RepairRepository struct{ s *Store }

func NewRepairRepository(s *Store) *RepairRepository { return &RepairRepository{s: s} }

func (r *RepairRepository) RepairUserEntries(_ context.Context, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[userID]; !ok {
		return false, nil
	}

	now := r.s.now()
	if len(r.s.roles[userID]) == 0 {
		r.s.roles[userID] = []*auth.RoleRecord{{
			ID:        ulid.Make().String(),
			UserID:    userID,
			Role:      auth.DefaultRole,
			CreatedAt: now,
		}}
	}
	if _, ok := r.s.profiles[userID]; !ok {
		r.s.profiles[userID] = &auth.ProfileRecord{ID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return true, nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
