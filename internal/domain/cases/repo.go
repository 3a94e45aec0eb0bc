package cases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists cases. Every method is scoped to orgID: a case of
// another organisation is reported as apperr.ErrNotFound, exactly like a
// missing id.
type Repository interface {
	// Create inserts c. A duplicate id is an apperr.ErrConflict.
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, orgID uuid.UUID, id string) (*Case, error)
	// List returns one page of matching cases and the total match count.
	// A non-positive limit returns every match.
	List(ctx context.Context, orgID uuid.UUID, f Filter, limit, offset int) ([]*Case, int, error)
	// Counts groups the cases matching f, ignoring f.Status, by status.
	Counts(ctx context.Context, orgID uuid.UUID, f Filter) (*Counts, error)
	// Update writes the mutable fields of c if its stored version still
	// equals c.Version, then increments c.Version. A stale version is an
	// apperr.ErrConflict.
	Update(ctx context.Context, c *Case) error
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const caseSelect = `
	SELECT c.id, c.org_id, c.created_at, c.updated_at,
		c.patient_first_name, c.patient_surname, c.patient_referral_id,
		c.institution_id, c.study_description, c.admin_notes, c.radiologist_id,
		c.attachment_key, c.attachment_name, c.status, c.protocol,
		c.decision, c.decision_comment, c.vetted_at, c.version,
		COALESCE(i.name, ''), COALESCE(i.sla_hours, 0), ` + radiologistNameExpr + `
	FROM cases c
	LEFT JOIN institutions i ON i.id = c.institution_id AND i.org_id = c.org_id
	LEFT JOIN users u ON u.id = c.radiologist_id
	LEFT JOIN radiologist_profiles rp ON rp.user_id = c.radiologist_id`

const radiologistNameExpr = `COALESCE(NULLIF(rp.display_name, ''), u.username, '')`

// dialect holds the SQL that differs between PostgreSQL and SQLite.
type dialect struct {
	placeholder func(n int) string
	like        string
	tat         string
	timeArg     func(t time.Time) interface{}
}

// query accumulates a WHERE clause and its arguments.
type query struct {
	d     dialect
	where []string
	args  []interface{}
}

func (q *query) arg(v interface{}) string {
	q.args = append(q.args, v)
	return q.d.placeholder(len(q.args))
}

func (q *query) add(format string, v interface{}) {
	q.where = append(q.where, fmt.Sprintf(format, q.arg(v)))
}

func (q *query) clause() string {
	return " WHERE " + strings.Join(q.where, " AND ")
}

// filterQuery builds the org-scoped WHERE clause for f. withStatus=false
// drops the status condition, for tab counts.
func (d dialect) filterQuery(orgID uuid.UUID, f Filter, withStatus bool) *query {
	q := &query{d: d}
	q.add("c.org_id = %s", orgID)
	if withStatus && f.Status != nil {
		q.add("c.status = %s", string(*f.Status))
	}
	if f.InstitutionID != nil {
		q.add("c.institution_id = %s", *f.InstitutionID)
	}
	if f.RadiologistID != nil {
		q.add("c.radiologist_id = %s", *f.RadiologistID)
	}
	if f.Query != "" {
		like := "%" + escapeLike(f.Query) + "%"
		a, b, c := q.arg(like), q.arg(like), q.arg(like)
		q.where = append(q.where, fmt.Sprintf(
			`(c.patient_first_name %[1]s %[2]s ESCAPE '\' OR c.patient_surname %[1]s %[3]s ESCAPE '\' OR c.patient_referral_id %[1]s %[4]s ESCAPE '\')`,
			d.like, a, b, c))
	}
	if f.From != nil {
		q.add("c.created_at >= %s", d.timeArg(*f.From))
	}
	if f.To != nil {
		q.add("c.created_at < %s", d.timeArg(*f.To))
	}
	return q
}

// orderBy maps a whitelisted sort key to an ORDER BY clause. Unknown keys
// sort by creation time.
func (d dialect) orderBy(f Filter) string {
	var expr string
	switch key := f.Sort; {
	case key == "tat":
		expr = d.tat
	case key == "institution_id":
		expr = "COALESCE(i.name, '')"
	case key == "radiologist":
		expr = radiologistNameExpr
	case sortKeys[key]:
		expr = "c." + key
	default:
		expr = "c.created_at"
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, c.id %s", expr, dir, dir)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func decisionArg(d *Decision) interface{} {
	if d == nil {
		return nil
	}
	return string(*d)
}

func decisionFrom(s *string) *Decision {
	if s == nil || *s == "" {
		return nil
	}
	d := Decision(*s)
	return &d
}
