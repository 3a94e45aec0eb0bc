package directory

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
)

// Organisation is a tenant. Organisations are disabled, never deleted.
type Organisation struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Slug       string     `json:"slug"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// User is a global identity. It reaches organisations through memberships.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        *string   `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	SaltHex      string    `json:"-"`
	IsSuperuser  bool      `json:"is_superuser"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Membership grants a user one role in one organisation. Username, OrgName
// and OrgSlug are filled from joins on reads.
type Membership struct {
	ID         uuid.UUID  `json:"id"`
	OrgID      uuid.UUID  `json:"org_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Role       auth.Role  `json:"role"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
	Username   string     `json:"username,omitempty"`
	OrgName    string     `json:"org_name,omitempty"`
	OrgSlug    string     `json:"org_slug,omitempty"`
}

// RadiologistProfile holds the details printed on vetting reports.
type RadiologistProfile struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	GMC         string    `json:"gmc"`
	Specialty   string    `json:"specialty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Radiologist is an active radiologist membership joined with its profile.
type Radiologist struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	GMC         string    `json:"gmc,omitempty"`
	Specialty   string    `json:"specialty,omitempty"`
}

// Name is the display name, falling back to the username.
func (r *Radiologist) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Username
}

// AuditLog records one administrative or lifecycle action.
type AuditLog struct {
	ID           uuid.UUID  `json:"id"`
	OrgID        *uuid.UUID `json:"org_id,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	Action       string     `json:"action"`
	TargetUserID *uuid.UUID `json:"target_user_id,omitempty"`
	TargetOrgID  *uuid.UUID `json:"target_org_id,omitempty"`
	CaseID       *string    `json:"case_id,omitempty"`
	Details      string     `json:"details"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Audit actions.
const (
	ActionOrgCreated        = "org_created"
	ActionOrgDisabled       = "org_disabled"
	ActionOrgEnabled        = "org_enabled"
	ActionUserCreated       = "user_created"
	ActionMembershipAdded   = "membership_added"
	ActionMembershipUpdated = "membership_updated"
	ActionRoleChanged       = "role_changed"
	ActionProfileUpdated    = "profile_updated"
	ActionCaseSubmitted     = "case_submitted"
	ActionCaseUpdated       = "case_updated"
	ActionCaseVetted        = "case_vetted"
	ActionCaseReopened      = "case_reopened"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidateSlug checks an organisation slug.
func ValidateSlug(slug string) error {
	if len(slug) > 100 || !slugPattern.MatchString(slug) {
		return apperr.Validation("slug must be lowercase letters, digits and hyphens, starting with a letter or digit")
	}
	return nil
}

func normaliseEmail(email string) *string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	return &email
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
