package reference

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/sqlitedb"
)

func sqliteErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case sqlitedb.IsNoRows(err):
		return apperr.NotFound("%s not found", what)
	case sqlitedb.IsUniqueViolation(err):
		return apperr.Conflict("%s already exists", what)
	case sqlitedb.IsForeignKeyViolation(err):
		return apperr.Conflict("%s is still in use", what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// -- Institution Repository --

type institutionRepoSQLite struct {
	db *sql.DB
}

func NewInstitutionRepoSQLite(db *sql.DB) InstitutionRepository {
	return &institutionRepoSQLite{db: db}
}

func scanInstitutionSQLite(row rowScanner) (*Institution, error) {
	var i Institution
	var created string
	var modified sql.NullString
	if err := row.Scan(&i.ID, &i.OrgID, &i.Name, &i.SLAHours, &created, &modified); err != nil {
		return nil, err
	}
	var err error
	if i.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if i.ModifiedAt, err = sqlitedb.ParseNullTime(modified); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *institutionRepoSQLite) Create(ctx context.Context, inst *Institution) error {
	inst.ID = uuid.New()
	inst.CreatedAt = time.Now().UTC()
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO institutions (id, org_id, name, sla_hours, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		inst.ID, inst.OrgID, inst.Name, inst.SLAHours, sqlitedb.FormatTime(inst.CreatedAt))
	return sqliteErr(err, "institution")
}

func (r *institutionRepoSQLite) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Institution, error) {
	i, err := scanInstitutionSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE id = ? AND org_id = ?`, id, orgID))
	return i, sqliteErr(err, "institution")
}

func (r *institutionRepoSQLite) GetByName(ctx context.Context, orgID uuid.UUID, name string) (*Institution, error) {
	i, err := scanInstitutionSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE org_id = ? AND name = ?`, orgID, name))
	return i, sqliteErr(err, "institution")
}

func (r *institutionRepoSQLite) Update(ctx context.Context, inst *Institution) error {
	now := time.Now().UTC()
	res, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		UPDATE institutions SET name = ?, sla_hours = ?, modified_at = ?
		WHERE id = ? AND org_id = ?`,
		inst.Name, inst.SLAHours, sqlitedb.FormatTime(now), inst.ID, inst.OrgID)
	if err != nil {
		return sqliteErr(err, "institution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("institution not found")
	}
	inst.ModifiedAt = &now
	return nil
}

// Delete fails with a conflict while cases or protocols reference the row.
func (r *institutionRepoSQLite) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	res, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx,
		`DELETE FROM institutions WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return sqliteErr(err, "institution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("institution not found")
	}
	return nil
}

func (r *institutionRepoSQLite) List(ctx context.Context, orgID uuid.UUID) ([]*Institution, error) {
	rows, err := sqlitedb.Pick(ctx, r.db).QueryContext(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list institutions: %w", err)
	}
	defer rows.Close()

	var out []*Institution
	for rows.Next() {
		i, err := scanInstitutionSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// -- Protocol Repository --

type protocolRepoSQLite struct {
	db *sql.DB
}

func NewProtocolRepoSQLite(db *sql.DB) ProtocolRepository {
	return &protocolRepoSQLite{db: db}
}

func scanProtocolSQLite(row rowScanner) (*Protocol, error) {
	var p Protocol
	var modified string
	if err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.InstitutionID, &p.Instructions, &p.IsActive, &modified); err != nil {
		return nil, err
	}
	var err error
	if p.LastModified, err = sqlitedb.ParseTime(modified); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *protocolRepoSQLite) Create(ctx context.Context, p *Protocol) error {
	p.ID = uuid.New()
	p.LastModified = time.Now().UTC()
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO protocols (id, org_id, name, institution_id, instructions, is_active, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrgID, p.Name, p.InstitutionID, p.Instructions, p.IsActive, sqlitedb.FormatTime(p.LastModified))
	return sqliteErr(err, "protocol")
}

func (r *protocolRepoSQLite) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Protocol, error) {
	p, err := scanProtocolSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE id = ? AND org_id = ?`, id, orgID))
	return p, sqliteErr(err, "protocol")
}

func (r *protocolRepoSQLite) Update(ctx context.Context, p *Protocol) error {
	now := time.Now().UTC()
	res, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		UPDATE protocols SET name = ?, institution_id = ?, instructions = ?, is_active = ?, last_modified = ?
		WHERE id = ? AND org_id = ?`,
		p.Name, p.InstitutionID, p.Instructions, p.IsActive, sqlitedb.FormatTime(now), p.ID, p.OrgID)
	if err != nil {
		return sqliteErr(err, "protocol")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("protocol not found")
	}
	p.LastModified = now
	return nil
}

func (r *protocolRepoSQLite) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	res, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx,
		`DELETE FROM protocols WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return sqliteErr(err, "protocol")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("protocol not found")
	}
	return nil
}

func (r *protocolRepoSQLite) List(ctx context.Context, orgID uuid.UUID, f ProtocolFilter) ([]*Protocol, error) {
	where := []string{"org_id = ?"}
	args := []interface{}{orgID}
	if f.InstitutionID != nil {
		where = append(where, "(institution_id IS NULL OR institution_id = ?)")
		args = append(args, *f.InstitutionID)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	rows, err := sqlitedb.Pick(ctx, r.db).QueryContext(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE `+strings.Join(where, " AND ")+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	var out []*Protocol
	for rows.Next() {
		p, err := scanProtocolSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
