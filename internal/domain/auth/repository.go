package auth

import "context"

// IdentityStore is the client view of the authentication backend.
type IdentityStore interface {
	// GetSession returns the current session or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers handler for every session transition.
	OnSessionChange(handler func(kind SessionEventKind, session *Session)) (unsubscribe func())
}

// IdentityReader loads identities by id.
type IdentityReader interface {
	FindIdentityByID(ctx context.Context, id string) (*Identity, error)
}

// CredentialRepository persists login credentials.
type CredentialRepository interface {
	IdentityReader
	CreateCredential(ctx context.Context, c *Credential) error
	FindCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	// MergeMetadata overlays metadata onto the stored registration metadata.
	MergeMetadata(ctx context.Context, id string, metadata map[string]interface{}) error
}

// RoleRepository stores role records.
type RoleRepository interface {
	// FindByUserID returns the rows newest first, or ErrNotFound when none exist.
	FindByUserID(ctx context.Context, userID string) ([]*RoleRecord, error)
	// InsertIfAbsent creates rec unless the user already has a role and
	// returns the authoritative record either way.
	InsertIfAbsent(ctx context.Context, rec *RoleRecord) (*RoleRecord, error)
	UpdateRole(ctx context.Context, userID string, role Role) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository stores profile records.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*ProfileRecord, error)
	// Upsert creates a minimal profile, leaving an existing one untouched.
	Upsert(ctx context.Context, p *ProfileRecord) error
}

// RepairProcedure recreates missing role and profile rows in one backend
// transaction.
type RepairProcedure interface {
	RepairUserEntries(ctx context.Context, userID string) (bool, error)
}
