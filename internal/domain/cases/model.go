package cases

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
)

// Status is a case lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVetted   Status = "vetted"
	StatusRejected Status = "rejected"
	StatusReopened Status = "reopened"
)

var statuses = []Status{StatusPending, StatusVetted, StatusRejected, StatusReopened}

// ParseStatus validates s as a case status.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperr.Validation("invalid status %q", s)
}

// Decision is a radiologist's vetting outcome.
type Decision string

const (
	DecisionApprove            Decision = "Approve"
	DecisionApproveWithComment Decision = "Approve with comment"
	DecisionReject             Decision = "Reject"
)

// ParseDecision validates s as a vetting decision.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.TrimSpace(s)); d {
	case DecisionApprove, DecisionApproveWithComment, DecisionReject:
		return d, nil
	}
	return "", apperr.Validation("decision must be one of %q, %q or %q",
		DecisionApprove, DecisionApproveWithComment, DecisionReject)
}

// IsApprove reports whether d is one of the approve variants.
func (d Decision) IsApprove() bool {
	return strings.HasPrefix(string(d), string(DecisionApprove))
}

// Case is one imaging referral. OrgID, CreatedAt, the patient fields and
// StudyDescription are fixed at submission.
//
// InstitutionName, SLAHours and RadiologistName are filled from joins on
// reads. TATMinutes, TATDisplay and SLABreached are derived at read time.
type Case struct {
	ID                string     `json:"id"`
	OrgID             uuid.UUID  `json:"org_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PatientFirstName  string     `json:"patient_first_name"`
	PatientSurname    string     `json:"patient_surname"`
	PatientReferralID string     `json:"patient_referral_id"`
	InstitutionID     *uuid.UUID `json:"institution_id,omitempty"`
	StudyDescription  string     `json:"study_description"`
	AdminNotes        string     `json:"admin_notes"`
	RadiologistID     *uuid.UUID `json:"radiologist_id,omitempty"`
	AttachmentKey     *string    `json:"-"`
	AttachmentName    *string    `json:"attachment_name,omitempty"`
	Status            Status     `json:"status"`
	Protocol          string     `json:"protocol"`
	Decision          *Decision  `json:"decision"`
	DecisionComment   string     `json:"decision_comment"`
	VettedAt          *time.Time `json:"vetted_at"`
	Version           int        `json:"version"`

	InstitutionName string `json:"institution_name,omitempty"`
	SLAHours        int    `json:"sla_hours,omitempty"`
	RadiologistName string `json:"radiologist_name,omitempty"`
	TATMinutes      int    `json:"tat_minutes"`
	TATDisplay      string `json:"tat_display"`
	SLABreached     bool   `json:"sla_breached"`
}

// Locked reports whether the case is approved and vetted, after which only
// a reopen may change it.
func (c *Case) Locked() bool {
	return c.Status == StatusVetted && c.Decision != nil && c.Decision.IsApprove()
}

// annotate fills the derived turnaround fields as of now.
func (c *Case) annotate(now time.Time) {
	c.TATMinutes = TATMinutes(c.CreatedAt, c.VettedAt, now)
	c.TATDisplay = FormatTAT(c.TATMinutes)
	c.SLABreached = SLABreached(c.Status, c.TATMinutes, c.SLAHours)
}

// Filter narrows case listings and exports. A nil Status means every
// status. From is inclusive and To exclusive. Sort must be a key of
// sortKeys.
type Filter struct {
	Status        *Status
	InstitutionID *uuid.UUID
	RadiologistID *uuid.UUID
	Query         string
	From          *time.Time
	To            *time.Time
	Sort          string
	Desc          bool
}

// Counts is the number of cases per status for a filter, ignoring the
// filter's status.
type Counts struct {
	All      int `json:"all"`
	Pending  int `json:"pending"`
	Vetted   int `json:"vetted"`
	Rejected int `json:"rejected"`
	Reopened int `json:"reopened"`
}

func (c *Counts) add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusVetted:
		c.Vetted += n
	case StatusRejected:
		c.Rejected += n
	case StatusReopened:
		c.Reopened += n
	}
	c.All += n
}
