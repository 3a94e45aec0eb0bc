package directory

import (
	"context"

	"github.com/google/uuid"
)

// Repositories return apperr.ErrNotFound for missing rows and an
// apperr.ErrConflict for unique violations.

type OrganisationRepository interface {
	Create(ctx context.Context, org *Organisation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organisation, error)
	GetBySlug(ctx context.Context, slug string) (*Organisation, error)
	List(ctx context.Context, limit, offset int) ([]*Organisation, int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpsertProfile(ctx context.Context, p *RadiologistProfile) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*RadiologistProfile, error)
}

type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error
	// GetByID is scoped to orgID; a membership of another org is not found.
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Membership, error)
	Get(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	Update(ctx context.Context, m *Membership) error
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Membership, int, error)
	// ListActiveByUser returns active memberships in active organisations.
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
	ListRadiologists(ctx context.Context, orgID uuid.UUID) ([]*Radiologist, error)
}

type AuditRepository interface {
	Create(ctx context.Context, entry *AuditLog) error
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*AuditLog, int, error)
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
