package cases

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/sqlitedb"
)

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	like:        "LIKE",
	tat:         "(julianday(COALESCE(c.vetted_at, 'now')) - julianday(c.created_at))",
	timeArg:     func(t time.Time) interface{} { return sqlitedb.FormatTime(t) },
}

func sqliteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case sqlitedb.IsNoRows(err):
		return apperr.NotFound("case not found")
	case sqlitedb.IsUniqueViolation(err):
		return apperr.Conflict("case already exists")
	default:
		return fmt.Errorf("case: %w", err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type repoSQLite struct {
	db *sql.DB
}

func NewRepoSQLite(db *sql.DB) Repository {
	return &repoSQLite{db: db}
}

func scanCaseSQLite(row rowScanner) (*Case, error) {
	var c Case
	var created, updated, status string
	var vetted, decision sql.NullString
	if err := row.Scan(&c.ID, &c.OrgID, &created, &updated,
		&c.PatientFirstName, &c.PatientSurname, &c.PatientReferralID,
		&c.InstitutionID, &c.StudyDescription, &c.AdminNotes, &c.RadiologistID,
		&c.AttachmentKey, &c.AttachmentName, &status, &c.Protocol,
		&decision, &c.DecisionComment, &vetted, &c.Version,
		&c.InstitutionName, &c.SLAHours, &c.RadiologistName); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if decision.Valid {
		c.Decision = decisionFrom(&decision.String)
	}
	var err error
	if c.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = sqlitedb.ParseTime(updated); err != nil {
		return nil, err
	}
	if c.VettedAt, err = sqlitedb.ParseNullTime(vetted); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoSQLite) Create(ctx context.Context, c *Case) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	c.Version = 1
	_, err := sqlitedb.Pick(ctx, r.db).ExecContext(ctx, `
		INSERT INTO cases (id, org_id, created_at, updated_at,
			patient_first_name, patient_surname, patient_referral_id,
			institution_id, study_description, admin_notes, radiologist_id,
			attachment_key, attachment_name, status, protocol,
			decision, decision_comment, vetted_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, sqlitedb.FormatTime(c.CreatedAt), sqlitedb.FormatTime(c.UpdatedAt),
		c.PatientFirstName, c.PatientSurname, c.PatientReferralID,
		c.InstitutionID, c.StudyDescription, c.AdminNotes, c.RadiologistID,
		c.AttachmentKey, c.AttachmentName, string(c.Status), c.Protocol,
		decisionArg(c.Decision), c.DecisionComment, sqlitedb.NullTime(c.VettedAt), c.Version)
	return sqliteErr(err)
}

func (r *repoSQLite) Get(ctx context.Context, orgID uuid.UUID, id string) (*Case, error) {
	c, err := scanCaseSQLite(sqlitedb.Pick(ctx, r.db).QueryRowContext(ctx,
		caseSelect+` WHERE c.id = ? AND c.org_id = ?`, id, orgID))
	return c, sqliteErr(err)
}

func (r *repoSQLite) List(ctx context.Context, orgID uuid.UUID, f Filter, limit, offset int) ([]*Case, int, error) {
	db := sqlitedb.Pick(ctx, r.db)
	q := sqliteDialect.filterQuery(orgID, f, true)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases c`+q.clause(), q.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	stmt := caseSelect + q.clause() + sqliteDialect.orderBy(f)
	args := q.args
	if limit > 0 {
		stmt += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCaseSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoSQLite) Counts(ctx context.Context, orgID uuid.UUID, f Filter) (*Counts, error) {
	q := sqliteDialect.filterQuery(orgID, f, false)
	rows, err := sqlitedb.Pick(ctx, r.db).QueryContext(ctx,
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

func (r *repoSQLite) Update(ctx context.Context, c *Case) error {
	db := sqlitedb.Pick(ctx, r.db)
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE cases SET
			updated_at = ?, institution_id = ?, radiologist_id = ?, admin_notes = ?,
			attachment_key = ?, attachment_name = ?, status = ?, protocol = ?,
			decision = ?, decision_comment = ?, vetted_at = ?, version = version + 1
		WHERE id = ? AND org_id = ? AND version = ?`,
		sqlitedb.FormatTime(now), c.InstitutionID, c.RadiologistID, c.AdminNotes,
		c.AttachmentKey, c.AttachmentName, string(c.Status), c.Protocol,
		decisionArg(c.Decision), c.DecisionComment, sqlitedb.NullTime(c.VettedAt),
		c.ID, c.OrgID, c.Version)
	if err != nil {
		return sqliteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id = ? AND org_id = ?`, c.ID, c.OrgID).Scan(&exists)
		if err != nil {
			return sqliteErr(err)
		}
		return apperr.Conflict("case %s was changed by someone else; reload and try again", c.ID)
	}
	c.UpdatedAt = now
	c.Version++
	return nil
}
