package cases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/domain/directory"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/reference"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/blobstore"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/telemetry"
)

// maxIDAttempts bounds retries when a generated case id collides.
const maxIDAttempts = 5

// Directory is the part of the directory service cases depend on.
type Directory interface {
	IsActiveRadiologist(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	User(ctx context.Context, id uuid.UUID) (*directory.User, error)
	Organisation(ctx context.Context, id uuid.UUID) (*directory.Organisation, error)
	Profile(ctx context.Context, userID uuid.UUID) (*directory.RadiologistProfile, error)
	Record(ctx context.Context, ac *auth.AccessContext, entry *directory.AuditLog) error
}

// Institutions resolves org-scoped institutions.
type Institutions interface {
	Institution(ctx context.Context, orgID, id uuid.UUID) (*reference.Institution, error)
}

type Service struct {
	repo    Repository
	dir     Directory
	insts   Institutions
	blobs   blobstore.Store
	tx      Transactor
	metrics *telemetry.TelemetryProvider
	logger  zerolog.Logger
	now     func() time.Time
	newID   func(time.Time) string
}

func NewService(repo Repository, dir Directory, insts Institutions, blobs blobstore.Store, tx Transactor,
	metrics *telemetry.TelemetryProvider, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		dir:     dir,
		insts:   insts,
		blobs:   blobs,
		tx:      tx,
		metrics: metrics,
		logger:  logger.With().Str("component", "cases").Logger(),
		now:     time.Now,
		newID:   NewID,
	}
}

// -- Submission --

// SubmitInput carries a new referral. The owning organisation always comes
// from the caller's access context.
type SubmitInput struct {
	PatientFirstName  string     `json:"patient_first_name"`
	PatientSurname    string     `json:"patient_surname"`
	PatientReferralID string     `json:"patient_referral_id"`
	InstitutionID     *uuid.UUID `json:"institution_id"`
	StudyDescription  string     `json:"study_description"`
	RadiologistID     *uuid.UUID `json:"radiologist_id"`
	AdminNotes        string     `json:"admin_notes"`
}

func (in *SubmitInput) normalise() error {
	in.PatientFirstName = strings.TrimSpace(in.PatientFirstName)
	in.PatientSurname = strings.TrimSpace(in.PatientSurname)
	in.PatientReferralID = strings.TrimSpace(in.PatientReferralID)
	in.StudyDescription = strings.TrimSpace(in.StudyDescription)
	in.AdminNotes = strings.TrimSpace(in.AdminNotes)

	var missing []string
	for _, f := range []struct {
		name  string
		empty bool
	}{
		{"patient_first_name", in.PatientFirstName == ""},
		{"patient_surname", in.PatientSurname == ""},
		{"patient_referral_id", in.PatientReferralID == ""},
		{"institution_id", in.InstitutionID == nil},
		{"study_description", in.StudyDescription == ""},
		{"radiologist_id", in.RadiologistID == nil},
	} {
		if f.empty {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	for _, f := range []struct {
		name, value string
		max         int
	}{
		{"patient_first_name", in.PatientFirstName, maxNameLen},
		{"patient_surname", in.PatientSurname, maxNameLen},
		{"patient_referral_id", in.PatientReferralID, maxReferralIDLen},
	} {
		if err := checkLen(f.name, f.value, f.max); err != nil {
			return err
		}
	}
	return nil
}

// Submit creates a pending case in the caller's organisation.
func (s *Service) Submit(ctx context.Context, ac *auth.AccessContext, in SubmitInput) (*Case, error) {
	if err := auth.Authorize(ac, auth.OpCaseSubmit); err != nil {
		return nil, err
	}
	if err := in.normalise(); err != nil {
		return nil, err
	}
	inst, err := s.checkInstitution(ctx, ac.OrgID, *in.InstitutionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRadiologist(ctx, ac.OrgID, *in.RadiologistID); err != nil {
		return nil, err
	}

	c := &Case{
		OrgID:             ac.OrgID,
		PatientFirstName:  in.PatientFirstName,
		PatientSurname:    in.PatientSurname,
		PatientReferralID: in.PatientReferralID,
		InstitutionID:     in.InstitutionID,
		StudyDescription:  in.StudyDescription,
		AdminNotes:        in.AdminNotes,
		RadiologistID:     in.RadiologistID,
		Status:            StatusPending,
	}
	// Each attempt runs in its own transaction: a failed insert aborts a
	// PostgreSQL transaction.
	for attempt := 1; ; attempt++ {
		c.CreatedAt = s.now().UTC()
		c.ID = s.newID(c.CreatedAt)
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.repo.Create(ctx, c); err != nil {
				return err
			}
			return s.record(ctx, ac, c.ID, directory.ActionCaseSubmitted,
				fmt.Sprintf("radiologist=%s institution=%s", *c.RadiologistID, inst.Name))
		})
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt == maxIDAttempts {
			return nil, err
		}
		s.logger.Debug().Str("case_id", c.ID).Msg("case id collision, retrying")
	}

	c.InstitutionName = inst.Name
	c.SLAHours = inst.SLAHours
	c.annotate(s.now())
	s.metrics.CaseTransition("", string(StatusPending))
	s.logger.Info().Str("case_id", c.ID).Str("org_id", c.OrgID.String()).Msg("case submitted")
	return c, nil
}

// -- Reads --

// Get returns a case of the caller's organisation. Cases of other
// organisations are not found. Radiologists may only read cases assigned
// to them.
func (s *Service) Get(ctx context.Context, ac *auth.AccessContext, id string) (*Case, error) {
	if err := auth.Authorize(ac, auth.OpCaseRead); err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, ac.OrgID, id)
	if err != nil {
		return nil, err
	}
	if err := checkAssignee(ac, c); err != nil {
		return nil, err
	}
	c.annotate(s.now())
	return c, nil
}

// checkAssignee keeps radiologists to their own worklist.
func checkAssignee(ac *auth.AccessContext, c *Case) error {
	if ac.Role != auth.RoleRadiologist {
		return nil
	}
	if c.RadiologistID == nil || *c.RadiologistID != ac.UserID {
		return apperr.Forbidden("case is assigned to another radiologist")
	}
	return nil
}

// scope applies the caller's visibility to f.
func scope(ac *auth.AccessContext, f Filter) Filter {
	if ac.Role == auth.RoleRadiologist {
		id := ac.UserID
		f.RadiologistID = &id
	}
	return f
}

// List returns a page of the caller's organisation's cases with tab counts
// for the same filter.
func (s *Service) List(ctx context.Context, ac *auth.AccessContext, f Filter, limit, offset int) ([]*Case, int, *Counts, error) {
	if err := auth.Authorize(ac, auth.OpCaseRead); err != nil {
		return nil, 0, nil, err
	}
	f = scope(ac, f)
	out, total, err := s.repo.List(ctx, ac.OrgID, f, limit, offset)
	if err != nil {
		return nil, 0, nil, err
	}
	counts, err := s.repo.Counts(ctx, ac.OrgID, f)
	if err != nil {
		return nil, 0, nil, err
	}
	now := s.now()
	for _, c := range out {
		c.annotate(now)
	}
	return out, total, counts, nil
}

// -- Edits --

// Patch edits the assignment and notes of a case. Version, when set, must
// match the stored version.
type Patch struct {
	InstitutionID *uuid.UUID `json:"institution_id"`
	RadiologistID *uuid.UUID `json:"radiologist_id"`
	Protocol      *string    `json:"protocol"`
	AdminNotes    *string    `json:"admin_notes"`
	Version       *int       `json:"version"`
}

func (p Patch) empty() bool {
	return p.InstitutionID == nil && p.RadiologistID == nil && p.Protocol == nil && p.AdminNotes == nil
}

// Update applies patch. Approved cases are locked until reopened.
func (s *Service) Update(ctx context.Context, ac *auth.AccessContext, id string, patch Patch) (*Case, error) {
	if err := auth.Authorize(ac, auth.OpCaseEdit); err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, apperr.Validation("nothing to update")
	}

	var c *Case
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.Get(ctx, ac.OrgID, id); err != nil {
			return err
		}
		if patch.Version != nil && *patch.Version != c.Version {
			return apperr.Conflict("case %s was changed by someone else; reload and try again", c.ID)
		}
		if c.Locked() {
			return apperr.Conflict("case %s is approved; reopen it before editing", c.ID)
		}

		var changes []string
		if patch.InstitutionID != nil {
			inst, err := s.checkInstitution(ctx, ac.OrgID, *patch.InstitutionID)
			if err != nil {
				return err
			}
			c.InstitutionID = &inst.ID
			c.InstitutionName, c.SLAHours = inst.Name, inst.SLAHours
			changes = append(changes, "institution="+inst.Name)
		}
		if patch.RadiologistID != nil {
			if err := s.checkRadiologist(ctx, ac.OrgID, *patch.RadiologistID); err != nil {
				return err
			}
			c.RadiologistID = patch.RadiologistID
			changes = append(changes, "radiologist="+patch.RadiologistID.String())
		}
		if patch.Protocol != nil {
			protocol := strings.TrimSpace(*patch.Protocol)
			if err := checkLen("protocol", protocol, maxProtocolLen); err != nil {
				return err
			}
			if protocol != "" && c.Decision != nil && *c.Decision == DecisionReject {
				return apperr.Validation("a rejected case cannot carry a protocol")
			}
			c.Protocol = protocol
			changes = append(changes, "protocol")
		}
		if patch.AdminNotes != nil {
			c.AdminNotes = strings.TrimSpace(*patch.AdminNotes)
			changes = append(changes, "admin_notes")
		}
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.record(ctx, ac, c.ID, directory.ActionCaseUpdated, strings.Join(changes, "; "))
	})
	if err != nil {
		return nil, err
	}
	c.annotate(s.now())
	return c, nil
}

// -- Lifecycle --

// Vet records the assigned radiologist's decision on a pending or reopened
// case. Invalid input fails before anything is written.
func (s *Service) Vet(ctx context.Context, ac *auth.AccessContext, id string, in VetInput) (*Case, error) {
	if err := auth.Authorize(ac, auth.OpCaseVet); err != nil {
		return nil, err
	}
	var c *Case
	var from Status
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.Get(ctx, ac.OrgID, id); err != nil {
			return err
		}
		if c.RadiologistID == nil || *c.RadiologistID != ac.UserID {
			return apperr.Forbidden("case is assigned to another radiologist")
		}
		from = c.Status
		if err := c.applyVet(in, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.record(ctx, ac, c.ID, directory.ActionCaseVetted, "decision="+string(*c.Decision))
	})
	if err != nil {
		return nil, err
	}
	c.annotate(s.now())
	s.metrics.CaseTransition(string(from), string(c.Status))
	s.logger.Info().Str("case_id", c.ID).Str("decision", string(*c.Decision)).Msg("case vetted")
	return c, nil
}

// Reopen sends a vetted or rejected case back for vetting.
func (s *Service) Reopen(ctx context.Context, ac *auth.AccessContext, id, reason string) (*Case, error) {
	if err := auth.Authorize(ac, auth.OpCaseReopen); err != nil {
		return nil, err
	}
	var c *Case
	var from Status
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.Get(ctx, ac.OrgID, id); err != nil {
			return err
		}
		from = c.Status
		if err := c.applyReopen(reason, ac.Username, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.record(ctx, ac, c.ID, directory.ActionCaseReopened, "reason="+strings.TrimSpace(reason))
	})
	if err != nil {
		return nil, err
	}
	c.annotate(s.now())
	s.metrics.CaseTransition(string(from), string(c.Status))
	s.logger.Info().Str("case_id", c.ID).Str("from", string(from)).Msg("case reopened")
	return c, nil
}

// -- Attachments --

// Upload describes an attachment being stored.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func attachmentKey(orgID uuid.UUID, caseID, name string) string {
	return fmt.Sprintf("orgs/%s/cases/%s/%s", orgID, caseID, name)
}

// AttachFile stores the referral document of a case. A case holds at most
// one attachment and it cannot be replaced.
func (s *Service) AttachFile(ctx context.Context, ac *auth.AccessContext, id string, up Upload) (*Case, error) {
	if err := auth.Authorize(ac, auth.OpCaseEdit); err != nil {
		return nil, err
	}
	if err := blobstore.ValidateUpload(up.FileName, up.ContentType, up.Size); err != nil {
		return nil, apperr.Validation("%v", err)
	}
	c, err := s.repo.Get(ctx, ac.OrgID, id)
	if err != nil {
		return nil, err
	}
	if c.Locked() {
		return nil, apperr.Conflict("case %s is approved; reopen it before editing", c.ID)
	}
	if c.AttachmentKey != nil {
		return nil, apperr.Conflict("case %s already has an attachment", c.ID)
	}

	name := blobstore.SafeName(up.FileName)
	if err := checkLen("file name", name, maxNameLen); err != nil {
		return nil, err
	}
	key := attachmentKey(c.OrgID, c.ID, name)
	if _, err := s.blobs.Put(ctx, key, up.Body, blobstore.PutOptions{
		ContentType: up.ContentType,
		Metadata:    map[string]string{"case_id": c.ID, "uploaded_by": ac.Username},
	}); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	c.AttachmentKey, c.AttachmentName = &key, &name
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.record(ctx, ac, c.ID, directory.ActionCaseUpdated, "attachment="+name)
	})
	if err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn().Err(derr).Str("key", key).Msg("remove orphaned attachment")
		}
		return nil, err
	}
	c.annotate(s.now())
	return c, nil
}

// Attachment opens the stored attachment of a case. The caller closes the
// returned reader.
func (s *Service) Attachment(ctx context.Context, ac *auth.AccessContext, id string) (string, blobstore.Info, io.ReadCloser, error) {
	if err := auth.Authorize(ac, auth.OpCaseAttachment); err != nil {
		return "", blobstore.Info{}, nil, err
	}
	c, err := s.repo.Get(ctx, ac.OrgID, id)
	if err != nil {
		return "", blobstore.Info{}, nil, err
	}
	if err := checkAssignee(ac, c); err != nil {
		return "", blobstore.Info{}, nil, err
	}
	if c.AttachmentKey == nil {
		return "", blobstore.Info{}, nil, apperr.NotFound("case %s has no attachment", c.ID)
	}
	info, body, err := s.blobs.Get(ctx, *c.AttachmentKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return "", blobstore.Info{}, nil, apperr.NotFound("attachment not found")
	}
	if err != nil {
		return "", blobstore.Info{}, nil, err
	}
	name := ""
	if c.AttachmentName != nil {
		name = *c.AttachmentName
	}
	return name, info, body, nil
}

// -- Helpers --

func (s *Service) checkInstitution(ctx context.Context, orgID, id uuid.UUID) (*reference.Institution, error) {
	inst, err := s.insts.Institution(ctx, orgID, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Validation("unknown institution")
	}
	return inst, err
}

func (s *Service) checkRadiologist(ctx context.Context, orgID, userID uuid.UUID) error {
	ok, err := s.dir.IsActiveRadiologist(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Validation("radiologist must be an active radiologist of this organisation")
	}
	return nil
}

func (s *Service) record(ctx context.Context, ac *auth.AccessContext, caseID, action, details string) error {
	return s.dir.Record(ctx, ac, &directory.AuditLog{Action: action, CaseID: &caseID, Details: details})
}
