package reference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/db"
)

func pgErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return apperr.NotFound("%s not found", what)
	case db.IsUniqueViolation(err):
		return apperr.Conflict("%s already exists", what)
	case db.IsForeignKeyViolation(err):
		return apperr.Conflict("%s is still in use", what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// -- Institution Repository --

type institutionRepoPG struct {
	pool *pgxpool.Pool
}

func NewInstitutionRepoPG(pool *pgxpool.Pool) InstitutionRepository {
	return &institutionRepoPG{pool: pool}
}

const institutionColumns = `id, org_id, name, sla_hours, created_at, modified_at`

func scanInstitutionPG(row pgx.Row) (*Institution, error) {
	var i Institution
	if err := row.Scan(&i.ID, &i.OrgID, &i.Name, &i.SLAHours, &i.CreatedAt, &i.ModifiedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *institutionRepoPG) Create(ctx context.Context, inst *Institution) error {
	inst.ID = uuid.New()
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO institutions (id, org_id, name, sla_hours)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		inst.ID, inst.OrgID, inst.Name, inst.SLAHours,
	).Scan(&inst.CreatedAt)
	return pgErr(err, "institution")
}

func (r *institutionRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Institution, error) {
	i, err := scanInstitutionPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE id = $1 AND org_id = $2`, id, orgID))
	return i, pgErr(err, "institution")
}

func (r *institutionRepoPG) GetByName(ctx context.Context, orgID uuid.UUID, name string) (*Institution, error) {
	i, err := scanInstitutionPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE org_id = $1 AND name = $2`, orgID, name))
	return i, pgErr(err, "institution")
}

func (r *institutionRepoPG) Update(ctx context.Context, inst *Institution) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		UPDATE institutions SET name = $1, sla_hours = $2, modified_at = NOW()
		WHERE id = $3 AND org_id = $4
		RETURNING modified_at`,
		inst.Name, inst.SLAHours, inst.ID, inst.OrgID,
	).Scan(&inst.ModifiedAt)
	return pgErr(err, "institution")
}

// Delete fails with a conflict while cases or protocols reference the row.
func (r *institutionRepoPG) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx,
		`DELETE FROM institutions WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return pgErr(err, "institution")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("institution not found")
	}
	return nil
}

func (r *institutionRepoPG) List(ctx context.Context, orgID uuid.UUID) ([]*Institution, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE org_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list institutions: %w", err)
	}
	defer rows.Close()

	var out []*Institution
	for rows.Next() {
		i, err := scanInstitutionPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// -- Protocol Repository --

type protocolRepoPG struct {
	pool *pgxpool.Pool
}

func NewProtocolRepoPG(pool *pgxpool.Pool) ProtocolRepository {
	return &protocolRepoPG{pool: pool}
}

const protocolColumns = `id, org_id, name, institution_id, instructions, is_active, last_modified`

func scanProtocolPG(row pgx.Row) (*Protocol, error) {
	var p Protocol
	if err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.InstitutionID, &p.Instructions, &p.IsActive, &p.LastModified); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *protocolRepoPG) Create(ctx context.Context, p *Protocol) error {
	p.ID = uuid.New()
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO protocols (id, org_id, name, institution_id, instructions, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING last_modified`,
		p.ID, p.OrgID, p.Name, p.InstitutionID, p.Instructions, p.IsActive,
	).Scan(&p.LastModified)
	return pgErr(err, "protocol")
}

func (r *protocolRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Protocol, error) {
	p, err := scanProtocolPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE id = $1 AND org_id = $2`, id, orgID))
	return p, pgErr(err, "protocol")
}

func (r *protocolRepoPG) Update(ctx context.Context, p *Protocol) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		UPDATE protocols SET name = $1, institution_id = $2, instructions = $3, is_active = $4, last_modified = NOW()
		WHERE id = $5 AND org_id = $6
		RETURNING last_modified`,
		p.Name, p.InstitutionID, p.Instructions, p.IsActive, p.ID, p.OrgID,
	).Scan(&p.LastModified)
	return pgErr(err, "protocol")
}

func (r *protocolRepoPG) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx,
		`DELETE FROM protocols WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return pgErr(err, "protocol")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("protocol not found")
	}
	return nil
}

func (r *protocolRepoPG) List(ctx context.Context, orgID uuid.UUID, f ProtocolFilter) ([]*Protocol, error) {
	where := []string{"org_id = $1"}
	args := []interface{}{orgID}
	if f.InstitutionID != nil {
		args = append(args, *f.InstitutionID)
		where = append(where, fmt.Sprintf("(institution_id IS NULL OR institution_id = $%d)", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	rows, err := db.Pick(ctx, r.pool).Query(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE `+strings.Join(where, " AND ")+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	var out []*Protocol
	for rows.Next() {
		p, err := scanProtocolPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
