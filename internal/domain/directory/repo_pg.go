package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
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
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// -- Organisation Repository --

type orgRepoPG struct {
	pool *pgxpool.Pool
}

func NewOrganisationRepoPG(pool *pgxpool.Pool) OrganisationRepository {
	return &orgRepoPG{pool: pool}
}

const orgColumns = `id, name, slug, is_active, created_at, modified_at`

func scanOrgPG(row pgx.Row) (*Organisation, error) {
	var o Organisation
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.IsActive, &o.CreatedAt, &o.ModifiedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orgRepoPG) Create(ctx context.Context, org *Organisation) error {
	org.ID = uuid.New()
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO organisations (id, name, slug, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		org.ID, org.Name, org.Slug, org.IsActive,
	).Scan(&org.CreatedAt)
	return pgErr(err, "organisation")
}

func (r *orgRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Organisation, error) {
	o, err := scanOrgPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organisations WHERE id = $1`, id))
	return o, pgErr(err, "organisation")
}

func (r *orgRepoPG) GetBySlug(ctx context.Context, slug string) (*Organisation, error) {
	o, err := scanOrgPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organisations WHERE slug = $1`, slug))
	return o, pgErr(err, "organisation")
}

func (r *orgRepoPG) List(ctx context.Context, limit, offset int) ([]*Organisation, int, error) {
	q := db.Pick(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM organisations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count organisations: %w", err)
	}
	rows, err := q.Query(ctx,
		`SELECT `+orgColumns+` FROM organisations ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list organisations: %w", err)
	}
	defer rows.Close()

	var out []*Organisation
	for rows.Next() {
		o, err := scanOrgPG(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *orgRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx,
		`UPDATE organisations SET is_active = $2, modified_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update organisation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("organisation not found")
	}
	return nil
}

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userColumns = `id, username, email, password_hash, salt_hex, is_superuser, is_active, created_at`

func scanUserPG(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.SaltHex,
		&u.IsSuperuser, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash, salt_hex, is_superuser, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.SaltHex, u.IsSuperuser, u.IsActive,
	).Scan(&u.CreatedAt)
	return pgErr(err, "user")
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUserPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, pgErr(err, "user")
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUserPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	return u, pgErr(err, "user")
}

func (r *userRepoPG) UpsertProfile(ctx context.Context, p *RadiologistProfile) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO radiologist_profiles (user_id, display_name, gmc, specialty, modified_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			gmc = EXCLUDED.gmc,
			specialty = EXCLUDED.specialty,
			modified_at = NOW()
		RETURNING modified_at`,
		p.UserID, p.DisplayName, p.GMC, p.Specialty,
	).Scan(&p.ModifiedAt)
	return pgErr(err, "radiologist profile")
}

func (r *userRepoPG) GetProfile(ctx context.Context, userID uuid.UUID) (*RadiologistProfile, error) {
	var p RadiologistProfile
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		SELECT user_id, display_name, gmc, specialty, modified_at
		FROM radiologist_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.GMC, &p.Specialty, &p.ModifiedAt)
	if err != nil {
		return nil, pgErr(err, "radiologist profile")
	}
	return &p, nil
}

// -- Membership Repository --

type membershipRepoPG struct {
	pool *pgxpool.Pool
}

func NewMembershipRepoPG(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepoPG{pool: pool}
}

const membershipSelect = `
	SELECT m.id, m.org_id, m.user_id, m.org_role, m.is_active, m.created_at, m.modified_at,
	       u.username, o.name, o.slug
	FROM memberships m
	JOIN users u ON u.id = m.user_id
	JOIN organisations o ON o.id = m.org_id`

func scanMembershipPG(row pgx.Row) (*Membership, error) {
	var m Membership
	var role string
	if err := row.Scan(&m.ID, &m.OrgID, &m.UserID, &role, &m.IsActive, &m.CreatedAt, &m.ModifiedAt,
		&m.Username, &m.OrgName, &m.OrgSlug); err != nil {
		return nil, err
	}
	m.Role = auth.Role(role)
	return &m, nil
}

func (r *membershipRepoPG) Create(ctx context.Context, m *Membership) error {
	m.ID = uuid.New()
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO memberships (id, org_id, user_id, org_role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.OrgID, m.UserID, string(m.Role), m.IsActive,
	).Scan(&m.CreatedAt)
	return pgErr(err, "membership")
}

func (r *membershipRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Membership, error) {
	m, err := scanMembershipPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		membershipSelect+` WHERE m.id = $1 AND m.org_id = $2`, id, orgID))
	return m, pgErr(err, "membership")
}

func (r *membershipRepoPG) Get(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	m, err := scanMembershipPG(db.Pick(ctx, r.pool).QueryRow(ctx,
		membershipSelect+` WHERE m.org_id = $1 AND m.user_id = $2`, orgID, userID))
	return m, pgErr(err, "membership")
}

func (r *membershipRepoPG) Update(ctx context.Context, m *Membership) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx, `
		UPDATE memberships SET org_role = $3, is_active = $4, modified_at = NOW()
		WHERE id = $1 AND org_id = $2`,
		m.ID, m.OrgID, string(m.Role), m.IsActive)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("membership not found")
	}
	return nil
}

func (r *membershipRepoPG) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Membership, int, error) {
	q := db.Pick(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM memberships WHERE org_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count memberships: %w", err)
	}
	rows, err := q.Query(ctx,
		membershipSelect+` WHERE m.org_id = $1 ORDER BY u.username LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list memberships: %w", err)
	}
	out, err := collectMembershipsPG(rows)
	return out, total, err
}

func (r *membershipRepoPG) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx,
		membershipSelect+` WHERE m.user_id = $1 AND m.is_active AND o.is_active ORDER BY o.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user memberships: %w", err)
	}
	return collectMembershipsPG(rows)
}

func collectMembershipsPG(rows pgx.Rows) ([]*Membership, error) {
	defer rows.Close()
	var out []*Membership
	for rows.Next() {
		m, err := scanMembershipPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *membershipRepoPG) ListRadiologists(ctx context.Context, orgID uuid.UUID) ([]*Radiologist, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT u.id, u.username, COALESCE(p.display_name, ''), COALESCE(p.gmc, ''), COALESCE(p.specialty, '')
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN radiologist_profiles p ON p.user_id = u.id
		WHERE m.org_id = $1 AND m.org_role = $2 AND m.is_active AND u.is_active
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

type auditRepoPG struct {
	pool *pgxpool.Pool
}

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) Create(ctx context.Context, e *AuditLog) error {
	e.ID = uuid.New()
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO audit_logs (id, org_id, user_id, action, target_user_id, target_org_id, case_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		e.ID, e.OrgID, e.UserID, e.Action, e.TargetUserID, e.TargetOrgID, e.CaseID, e.Details,
	).Scan(&e.CreatedAt)
	return pgErr(err, "audit log")
}

func (r *auditRepoPG) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*AuditLog, int, error) {
	q := db.Pick(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE org_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	rows, err := q.Query(ctx, `
		SELECT id, org_id, user_id, action, target_user_id, target_org_id, case_id, details, created_at
		FROM audit_logs WHERE org_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*AuditLog
	for rows.Next() {
		var e AuditLog
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.Action, &e.TargetUserID, &e.TargetOrgID,
			&e.CaseID, &e.Details, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}
