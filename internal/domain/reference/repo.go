package reference

import (
	"context"

	"github.com/google/uuid"
)

// Every lookup is scoped to orgID; a row of another organisation is
// reported as apperr.ErrNotFound.

type InstitutionRepository interface {
	Create(ctx context.Context, inst *Institution) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Institution, error)
	GetByName(ctx context.Context, orgID uuid.UUID, name string) (*Institution, error)
	Update(ctx context.Context, inst *Institution) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	List(ctx context.Context, orgID uuid.UUID) ([]*Institution, error)
}

type ProtocolRepository interface {
	Create(ctx context.Context, p *Protocol) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Protocol, error)
	Update(ctx context.Context, p *Protocol) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	List(ctx context.Context, orgID uuid.UUID, f ProtocolFilter) ([]*Protocol, error)
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
