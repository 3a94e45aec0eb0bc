package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
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
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// -- Organisation Repository --

type orgRepoSQLite struct {
	db *sql.DB
}

func NewOrganisationRepoSQLite(db *sql.DB) OrganisationRepository {
	return &orgRepoSQLite{db: db}
}

func scanOrgSQLite(row rowScanner) (*Organisation, error) {
	var o Organisation
	var created string
	var modified sql.NullString
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.IsActive, &created, &modified); err != nil {
		return nil, err
	}
	var err error
	if o.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if o.ModifiedAt, err = sqlitedb.ParseNullTime(modified); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orgRepoSQLite) Create(ctx context.Context, org *Organisation) error {
	org.ID = uuid.New()
	org.CreatedAt = time.Now().UTC()
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO organisations (id, name, slug, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Slug, org.IsActive, sqlitedb.FormatTime(org.CreatedAt))
	return sqliteErr(err, "organisation")
}

func (r *orgRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Organisation, error) {
	o, err := scanOrgSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organisations WHERE id = ?`, id))
	return o, sqliteErr(err, "organisation")
}

func (r *orgRepoSQLite) GetBySlug(ctx context.Context, slug string) (*Organisation, error) {
	o, err := scanOrgSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organisations WHERE slug = ?`, slug))
	return o, sqliteErr(err, "organisation")
}

func (r *orgRepoSQLite) List(ctx context.Context, limit, offset int) ([]*Organisation, int, error) {
	q := sqlitedb.Pick(ctx, r.db)
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM organisations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count organisations: %w", err)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+orgColumns+` FROM organisations ORDER BY name LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list organisations: %w", err)
	}
	defer rows.Close()

	var out []*Organisation
	for rows.Next() {
		o, err := scanOrgSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *orgRepoSQLite) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx,
		`UPDATE organisations SET is_active = ?, modified_at = ? WHERE id = ?`,
		active, sqlitedb.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update organisation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("organisation not found")
	}
	return nil
}

// -- User Repository --

type userRepoSQLite struct {
	db *sql.DB
}

func NewUserRepoSQLite(db *sql.DB) UserRepository {
	return &userRepoSQLite{db: db}
}

func scanUserSQLite(row rowScanner) (*User, error) {
	var u User
	var email sql.NullString
	var created string
	if err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.SaltHex,
		&u.IsSuperuser, &u.IsActive, &created); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	var err error
	if u.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoSQLite) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	u.CreatedAt = time.Now().UTC()
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, salt_hex, is_superuser, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.SaltHex, u.IsSuperuser, u.IsActive,
		sqlitedb.FormatTime(u.CreatedAt))
	return sqliteErr(err, "user")
}

func (r *userRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUserSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	return u, sqliteErr(err, "user")
}

func (r *userRepoSQLite) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUserSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	return u, sqliteErr(err, "user")
}

func (r *userRepoSQLite) UpsertProfile(ctx context.Context, p *RadiologistProfile) error {
	p.ModifiedAt = time.Now().UTC()
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO radiologist_profiles (user_id, display_name, gmc, specialty, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = excluded.display_name,
			gmc = excluded.gmc,
			specialty = excluded.specialty,
			modified_at = excluded.modified_at`,
		p.UserID, p.DisplayName, p.GMC, p.Specialty, sqlitedb.FormatTime(p.ModifiedAt))
	return sqliteErr(err, "radiologist profile")
}

func (r *userRepoSQLite) GetProfile(ctx context.Context, userID uuid.UUID) (*RadiologistProfile, error) {
	var p RadiologistProfile
	var modified string
	err := sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx, `
		SELECT user_id, display_name, gmc, specialty, modified_at
		FROM radiologist_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.GMC, &p.Specialty, &modified)
	if err != nil {
		return nil, sqliteErr(err, "radiologist profile")
	}
	if p.ModifiedAt, err = sqlitedb.ParseTime(modified); err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Membership Repository --

type membershipRepoSQLite struct {
	db *sql.DB
}

func NewMembershipRepoSQLite(db *sql.DB) MembershipRepository {
	return &membershipRepoSQLite{db: db}
}

func scanMembershipSQLite(row rowScanner) (*Membership, error) {
	var m Membership
	var role, created string
	var modified sql.NullString
	if err := row.Scan(&m.ID, &m.OrgID, &m.UserID, &role, &m.IsActive, &created, &modified,
		&m.Username, &m.OrgName, &m.OrgSlug); err != nil {
		return nil, err
	}
	m.Role = auth.Role(role)
	var err error
	if m.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if m.ModifiedAt, err = sqlitedb.ParseNullTime(modified); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepoSQLite) Create(ctx context.Context, m *Membership) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO memberships (id, org_id, user_id, org_role, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.OrgID, m.UserID, string(m.Role), m.IsActive, sqlitedb.FormatTime(m.CreatedAt))
	return sqliteErr(err, "membership")
}

func (r *membershipRepoSQLite) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Membership, error) {
	m, err := scanMembershipSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		membershipSelect+` WHERE m.id = ? AND m.org_id = ?`, id, orgID))
	return m, sqliteErr(err, "membership")
}

func (r *membershipRepoSQLite) Get(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	m, err := scanMembershipSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		membershipSelect+` WHERE m.org_id = ? AND m.user_id = ?`, orgID, userID))
	return m, sqliteErr(err, "membership")
}

func (r *membershipRepoSQLite) Update(ctx context.Context, m *Membership) error {
	res, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		UPDATE memberships SET org_role = ?, is_active = ?, modified_at = ?
		WHERE id = ? AND org_id = ?`,
		string(m.Role), m.IsActive, sqlitedb.FormatTime(time.Now()), m.ID, m.OrgID)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("membership not found")
	}
	return nil
}

func (r *membershipRepoSQLite) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Membership, int, error) {
	q := sqlitedb.Pick(ctx, r.db)
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE org_id = ?`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count memberships: %w", err)
	}
	rows, err := q.QueryContext(ctx,
		membershipSelect+` WHERE m.org_id = ? ORDER BY u.username LIMIT ? OFFSET ?`, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list memberships: %w", err)
	}
	out, err := collectMembershipsSQLite(rows)
	return out, total, err
}

func (r *membershipRepoSQLite) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	rows, err := sqlitedb.Pick(ctx, r.db).QueryContext(ctx,
		membershipSelect+` WHERE m.user_id = ? AND m.is_active = 1 AND o.is_active = 1 ORDER BY o.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user memberships: %w", err)
	}
	return collectMembershipsSQLite(rows)
}

func collectMembershipsSQLite(rows *sql.Rows) ([]*Membership, error) {
	defer rows.Close()
	var out []*Membership
	for rows.Next() {
		m, err := scanMembershipSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *membershipRepoSQLite) ListRadiologists(ctx context.Context, orgID uuid.UUID) ([]*Radiologist, error) {
	rows, err := sqlitedb.Pick(ctx, r.db).QueryContext(ctx, `
		SELECT u.id, u.username, COALESCE(p.display_name, ''), COALESCE(p.gmc, ''), COALESCE(p.specialty, '')
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN radiologist_profiles p ON p.user_id = u.id
		WHERE m.org_id = ? AND m.org_role = ? AND m.is_active = 1 AND u.is_active = 1
		ORDER BY COALESCE(NULLIF(p.display_name, ''), u.username)`,
		orgID, string(auth.RoleRadiologist))
	if err != nil {
		return nil, fmt.Errorf("list radiologists: %w", err)
	}
	defer rows.Close()

	var out []*Radiologist
	for rows.Next() {
		var rad Radiologist
		if err := rows.Scan(&rad.UserID, &rad.Username, &rad.DisplayName, &rad.GMC, &rad.Specialty); err != nil {
			return nil, err
		}
		out = append(out, &rad)
	}
	return out, rows.Err()
}

// -- Audit Repository --

type auditRepoSQLite struct {
	db *sql.DB
}

func NewAuditRepoSQLite(db *sql.DB) AuditRepository {
	return &auditRepoSQLite{db: db}
}

func (r *auditRepoSQLite) Create(ctx context.Context, e *AuditLog) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO audit_logs (id, org_id, user_id, action, target_user_id, target_org_id, case_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrgID, e.UserID, e.Action, e.TargetUserID, e.TargetOrgID, e.CaseID, e.Details,
		sqlitedb.FormatTime(e.CreatedAt))
	return sqliteErr(err, "audit log")
}

func (r *auditRepoSQLite) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*AuditLog, int, error) {
	q := sqlitedb.Pick(ctx, r.db)
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs WHERE org_id = ?`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, org_id, user_id, action, target_user_id, target_org_id, case_id, details, created_at
		FROM audit_logs WHERE org_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*AuditLog
	for rows.Next() {
		var e AuditLog
		var created string
		var caseID sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.Action, &e.TargetUserID, &e.TargetOrgID,
			&caseID, &e.Details, &created); err != nil {
			return nil, 0, err
		}
		if caseID.Valid {
			e.CaseID = &caseID.String
		}
		if e.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}
