package reference

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinSLAHours = 1
	MaxSLAHours = 999
)

// Institution is a referring site. SLAHours bounds the turnaround expected
// for its cases.
type Institution struct {
	ID         uuid.UUID  `json:"id"`
	OrgID      uuid.UUID  `json:"org_id"`
	Name       string     `json:"name"`
	SLAHours   int        `json:"sla_hours"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// Protocol is a named imaging protocol a radiologist may select when
// approving a case. A nil InstitutionID makes it available to every
// institution in the organisation.
type Protocol struct {
	ID            uuid.UUID  `json:"id"`
	OrgID         uuid.UUID  `json:"org_id"`
	Name          string     `json:"name"`
	InstitutionID *uuid.UUID `json:"institution_id,omitempty"`
	Instructions  string     `json:"instructions"`
	IsActive      bool       `json:"is_active"`
	LastModified  time.Time  `json:"last_modified"`
}

// ProtocolFilter narrows protocol listings.
type ProtocolFilter struct {
	InstitutionID *uuid.UUID
	ActiveOnly    bool
}

type defaultInstitution struct {
	name     string
	slaHours int
}

var defaultInstitutions = []defaultInstitution{
	{"UHCL", 48},
	{"Nuffield Hospital", 24},
	{"Local Medical Centre", 72},
}

var defaultProtocols = []string{
	"CT Head (standard)",
	"CT Head (stroke)",
	"CT C-Spine",
	"CT Chest",
	"CT Abdomen/Pelvis",
	"CT KUB",
	"MRI Brain",
	"MRI Spine",
	"XR Chest",
}
