package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/db"
)

var pgDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	like:        "ILIKE",
	tat:         "(COALESCE(c.vetted_at, NOW()) - c.created_at)",
	timeArg:     func(t time.Time) interface{} { return t },
}

func pgErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return apperr.NotFound("case not found")
	case db.IsUniqueViolation(err):
		return apperr.Conflict("case already exists")
	default:
		return fmt.Errorf("case: %w", err)
	}
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func scanCasePG(row pgx.Row) (*Case, error) {
	var c Case
	var status string
	var decision *string
	if err := row.Scan(&c.ID, &c.OrgID, &c.CreatedAt, &c.UpdatedAt,
		&c.PatientFirstName, &c.PatientSurname, &c.PatientReferralID,
		&c.InstitutionID, &c.StudyDescription, &c.AdminNotes, &c.RadiologistID,
		&c.AttachmentKey, &c.AttachmentName, &status, &c.Protocol,
		&decision, &c.DecisionComment, &c.VettedAt, &c.Version,
		&c.InstitutionName, &c.SLAHours, &c.RadiologistName); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.Decision = decisionFrom(decision)
	return &c, nil
}

func (r *repoPG) Create(ctx context.Context, c *Case) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	c.Version = 1
	_, err := db.Pick(ctx, r.pool).Exec(ctx, `
		INSERT INTO cases (id, org_id, created_at, updated_at,
			patient_first_name, patient_surname, patient_referral_id,
			institution_id, study_description, admin_notes, radiologist_id,
			attachment_key, attachment_name, status, protocol,
			decision, decision_comment, vetted_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		c.ID, c.OrgID, c.CreatedAt, c.UpdatedAt,
		c.PatientFirstName, c.PatientSurname, c.PatientReferralID,
		c.InstitutionID, c.StudyDescription, c.AdminNotes, c.RadiologistID,
		c.AttachmentKey, c.AttachmentName, string(c.Status), c.Protocol,
		decisionArg(c.Decision), c.DecisionComment, c.VettedAt, c.Version)
	return pgErr(err)
}

func (r *repoPG) Get(ctx context.Context, orgID uuid.UUID, id string) (*Case, error) {
	c, err := scanCasePG(db.Pick(ctx, r.pool).QueryRow(ctx,
		caseSelect+` WHERE c.id = $1 AND c.org_id = $2`, id, orgID))
	return c, pgErr(err)
}

func (r *repoPG) List(ctx context.Context, orgID uuid.UUID, f Filter, limit, offset int) ([]*Case, int, error) {
	conn := db.Pick(ctx, r.pool)
	q := pgDialect.filterQuery(orgID, f, true)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM cases c`+q.clause(), q.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	stmt := caseSelect + q.clause() + pgDialect.orderBy(f)
	args := q.args
	if limit > 0 {
		stmt += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}
	rows, err := conn.Query(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCasePG(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Counts(ctx context.Context, orgID uuid.UUID, f Filter) (*Counts, error) {
	q := pgDialect.filterQuery(orgID, f, false)
	rows, err := db.Pick(ctx, r.pool).Query(ctx,
		`SELECT c.status, COUNT(*) FROM cases c`+q.clause()+` GROUP BY c.status`, q.args...)
	if err != nil {
		return nil, fmt.Errorf("count cases: %w", err)
	}
	defer rows.Close()

	counts := &Counts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts.add(Status(status), n)
	}
	return counts, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, c *Case) error {
	conn := db.Pick(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		UPDATE cases SET
			updated_at = NOW(), institution_id = $1, radiologist_id = $2, admin_notes = $3,
			attachment_key = $4, attachment_name = $5, status = $6, protocol = $7,
			decision = $8, decision_comment = $9, vetted_at = $10, version = version + 1
		WHERE id = $11 AND org_id = $12 AND version = $13
		RETURNING updated_at, version`,
		c.InstitutionID, c.RadiologistID, c.AdminNotes,
		c.AttachmentKey, c.AttachmentName, string(c.Status), c.Protocol,
		decisionArg(c.Decision), c.DecisionComment, c.VettedAt,
		c.ID, c.OrgID, c.Version,
	).Scan(&c.UpdatedAt, &c.Version)
	if err == nil {
		return nil
	}
	if !db.IsNoRows(err) {
		return pgErr(err)
	}
	var exists int
	if err := conn.QueryRow(ctx, `SELECT 1 FROM cases WHERE id = $1 AND org_id = $2`, c.ID, c.OrgID).Scan(&exists); err != nil {
		return pgErr(err)
	}
	return apperr.Conflict("case %s was changed by someone else; reload and try again", c.ID)
}
