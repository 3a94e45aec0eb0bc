package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
)

type Service struct {
	orgs    OrganisationRepository
	users   UserRepository
	members MembershipRepository
	audit   AuditRepository
	tx      Transactor
	tokens  *auth.TokenIssuer
	logger  zerolog.Logger
	verify  func(password, hashHex, saltHex string) bool
}

func NewService(orgs OrganisationRepository, users UserRepository, members MembershipRepository,
	audit AuditRepository, tx Transactor, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		orgs:    orgs,
		users:   users,
		members: members,
		audit:   audit,
		tx:      tx,
		tokens:  tokens,
		logger:  logger.With().Str("component", "directory").Logger(),
		verify:  auth.VerifyPassword,
	}
}

// -- auth.Directory --

func (s *Service) Principal(ctx context.Context, userID uuid.UUID) (*auth.Principal, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &auth.Principal{
		UserID:      u.ID,
		Username:    u.Username,
		IsSuperuser: u.IsSuperuser,
		IsActive:    u.IsActive,
	}, nil
}

func (s *Service) ActiveGrants(ctx context.Context, userID uuid.UUID) ([]auth.Grant, error) {
	ms, err := s.members.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants := make([]auth.Grant, 0, len(ms))
	for _, m := range ms {
		grants = append(grants, auth.Grant{OrgID: m.OrgID, Role: m.Role})
	}
	return grants, nil
}

func (s *Service) OrganisationActive(ctx context.Context, orgID uuid.UUID) (bool, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return org.IsActive, nil
}

// -- Sessions --

// Session is a signed token plus the state it was issued for.
type Session struct {
	Token       string        `json:"token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	User        *User         `json:"user"`
	OrgID       *uuid.UUID    `json:"org_id,omitempty"`
	Role        auth.Role     `json:"role,omitempty"`
	Memberships []*Membership `json:"memberships"`
}

// Login checks credentials and issues a session. A user with exactly one
// active membership has that organisation selected.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	hash, salt := auth.UnknownUserHash, auth.UnknownUserSalt
	if u != nil {
		hash, salt = u.PasswordHash, u.SaltHex
	}
	if !s.verify(password, hash, salt) || u == nil {
		return nil, apperr.Unauthenticated("invalid username or password")
	}
	if !u.IsActive {
		return nil, apperr.Unauthenticated("account is disabled")
	}

	ms, err := s.members.ListActiveByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 && !u.IsSuperuser {
		return nil, apperr.Forbidden("user has no active organisation membership")
	}

	sess := &Session{User: u, Memberships: ms}
	orgID := uuid.Nil
	if len(ms) == 1 {
		orgID = ms[0].OrgID
		sess.OrgID = &orgID
		sess.Role = ms[0].Role
	}
	if err := s.sign(sess, u.ID, orgID); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Int("memberships", len(ms)).Msg("login")
	return sess, nil
}

// SelectOrganisation issues a session bound to orgID.
func (s *Service) SelectOrganisation(ctx context.Context, ac *auth.AccessContext, orgID uuid.UUID) (*Session, error) {
	if ac == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if org == nil || !org.IsActive {
		return nil, apperr.Forbidden("organisation is not available")
	}

	role := auth.RoleSuperuser
	m, err := s.members.Get(ctx, orgID, ac.UserID)
	switch {
	case err == nil && m.IsActive:
		role = m.Role
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	case !ac.IsSuperuser:
		return nil, apperr.Forbidden("no active membership in organisation")
	}

	u, err := s.users.GetByID(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}
	ms, err := s.members.ListActiveByUser(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}
	sess := &Session{User: u, OrgID: &org.ID, Role: role, Memberships: ms}
	if err := s.sign(sess, u.ID, org.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) sign(sess *Session, userID, orgID uuid.UUID) error {
	if s.tokens == nil {
		return fmt.Errorf("token issuer not configured")
	}
	token, exp, err := s.tokens.Issue(userID, orgID)
	if err != nil {
		return err
	}
	sess.Token = token
	sess.ExpiresAt = exp
	return nil
}

// Me describes the caller's resolved context.
type Me struct {
	User        *User         `json:"user"`
	OrgID       *uuid.UUID    `json:"org_id,omitempty"`
	Role        auth.Role     `json:"role,omitempty"`
	IsSuperuser bool          `json:"is_superuser"`
	Memberships []*Membership `json:"memberships"`
}

func (s *Service) Me(ctx context.Context, ac *auth.AccessContext) (*Me, error) {
	if ac == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	u, err := s.users.GetByID(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}
	ms, err := s.members.ListActiveByUser(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}
	return &Me{
		User:        u,
		OrgID:       uuidPtr(ac.OrgID),
		Role:        ac.Role,
		IsSuperuser: ac.IsSuperuser,
		Memberships: ms,
	}, nil
}

// -- Organisations (superuser) --

func (s *Service) CreateOrganisation(ctx context.Context, ac *auth.AccessContext, name, slug string) (*Organisation, error) {
	if err := auth.Authorize(ac, auth.OpOrgManage); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(strings.ToLower(slug))
	if name == "" {
		return nil, apperr.Validation("organisation name is required")
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	org := &Organisation{Name: name, Slug: slug, IsActive: true}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orgs.Create(ctx, org); err != nil {
			return err
		}
		return s.record(ctx, ac, &AuditLog{
			Action:      ActionOrgCreated,
			TargetOrgID: &org.ID,
			Details:     fmt.Sprintf("created organisation %s (%s)", org.Name, org.Slug),
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("org_id", org.ID.String()).Str("slug", org.Slug).Msg("organisation created")
	return org, nil
}

func (s *Service) ListOrganisations(ctx context.Context, ac *auth.AccessContext, limit, offset int) ([]*Organisation, int, error) {
	if err := auth.Authorize(ac, auth.OpOrgManage); err != nil {
		return nil, 0, err
	}
	return s.orgs.List(ctx, limit, offset)
}

// GetOrganisation returns orgID if the caller may see it: a superuser sees
// every organisation, anyone else only their current one.
func (s *Service) GetOrganisation(ctx context.Context, ac *auth.AccessContext, orgID uuid.UUID) (*Organisation, error) {
	if ac == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	if !ac.IsSuperuser && ac.OrgID != orgID {
		return nil, apperr.NotFound("organisation not found")
	}
	return s.orgs.GetByID(ctx, orgID)
}

// OrganisationBySlug looks up an organisation for operator tooling.
func (s *Service) OrganisationBySlug(ctx context.Context, ac *auth.AccessContext, slug string) (*Organisation, error) {
	if err := auth.Authorize(ac, auth.OpOrgManage); err != nil {
		return nil, err
	}
	return s.orgs.GetBySlug(ctx, slug)
}

func (s *Service) SetOrganisationActive(ctx context.Context, ac *auth.AccessContext, orgID uuid.UUID, active bool) (*Organisation, error) {
	if err := auth.Authorize(ac, auth.OpOrgManage); err != nil {
		return nil, err
	}
	action := ActionOrgDisabled
	if active {
		action = ActionOrgEnabled
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orgs.SetActive(ctx, orgID, active); err != nil {
			return err
		}
		return s.record(ctx, ac, &AuditLog{Action: action, TargetOrgID: &orgID})
	})
	if err != nil {
		return nil, err
	}
	return s.orgs.GetByID(ctx, orgID)
}

func (s *Service) ListOrganisationMembers(ctx context.Context, ac *auth.AccessContext, orgID uuid.UUID, limit, offset int) ([]*Membership, int, error) {
	if err := auth.Authorize(ac, auth.OpOrgManage); err != nil {
		return nil, 0, err
	}
	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return nil, 0, err
	}
	return s.members.ListByOrg(ctx, orgID, limit, offset)
}

// AddOrganisationMember adds an existing user to any organisation.
func (s *Service) AddOrganisationMember(ctx context.Context, ac *auth.AccessContext, orgID uuid.UUID, username string, role auth.Role) (*Membership, error) {
	if err := auth.Authorize(ac, auth.OpOrgManage); err != nil {
		return nil, err
	}
	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return nil, err
	}
	return s.addMember(ctx, ac, orgID, username, role)
}

// -- Users and memberships (org admin) --

// CreateUserInput carries the fields for a new user.
type CreateUserInput struct {
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
	IsSuperuser bool      `json:"is_superuser"`
}

func (in *CreateUserInput) validate() error {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return apperr.Validation("username is required")
	}
	if len(in.Username) > 150 {
		return apperr.Validation("username is too long")
	}
	if len(in.Password) < auth.MinPasswordLen {
		return apperr.Validation("password must be at least %d characters", auth.MinPasswordLen)
	}
	return nil
}

// CreateUser creates a global user with a membership in the caller's
// current organisation.
func (s *Service) CreateUser(ctx context.Context, ac *auth.AccessContext, in CreateUserInput) (*User, *Membership, error) {
	if err := auth.Authorize(ac, auth.OpMemberManage); err != nil {
		return nil, nil, err
	}
	if in.IsSuperuser && !ac.IsSuperuser {
		return nil, nil, apperr.Forbidden("only a superuser may create superusers")
	}
	role, err := s.grantableRole(ac, string(in.Role))
	if err != nil {
		return nil, nil, err
	}
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	var u *User
	var m *Membership
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if u, err = s.createUser(ctx, ac, in); err != nil {
			return err
		}
		m = &Membership{OrgID: ac.OrgID, UserID: u.ID, Role: role, IsActive: true, Username: u.Username}
		if err := s.members.Create(ctx, m); err != nil {
			return err
		}
		return s.record(ctx, ac, &AuditLog{
			Action:       ActionMembershipAdded,
			TargetUserID: &u.ID,
			Details:      fmt.Sprintf("role=%s", role),
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return u, m, nil
}

// CreateGlobalUser creates a user without any membership.
func (s *Service) CreateGlobalUser(ctx context.Context, ac *auth.AccessContext, in CreateUserInput) (*User, error) {
	if err := auth.Authorize(ac, auth.OpOrgManage); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var u *User
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.createUser(ctx, ac, in)
		return err
	})
	return u, err
}

func (s *Service) createUser(ctx context.Context, ac *auth.AccessContext, in CreateUserInput) (*User, error) {
	hash, salt, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username:     in.Username,
		Email:        normaliseEmail(in.Email),
		PasswordHash: hash,
		SaltHex:      salt,
		IsSuperuser:  in.IsSuperuser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Conflict("username or email already in use")
		}
		return nil, err
	}
	if err := s.record(ctx, ac, &AuditLog{
		Action:       ActionUserCreated,
		TargetUserID: &u.ID,
		Details:      "username=" + u.Username,
	}); err != nil {
		return nil, err
	}
	return u, nil
}

// AddMember adds an existing user to the caller's current organisation.
func (s *Service) AddMember(ctx context.Context, ac *auth.AccessContext, username string, role auth.Role) (*Membership, error) {
	if err := auth.Authorize(ac, auth.OpMemberManage); err != nil {
		return nil, err
	}
	return s.addMember(ctx, ac, ac.OrgID, username, role)
}

func (s *Service) addMember(ctx context.Context, ac *auth.AccessContext, orgID uuid.UUID, username string, role auth.Role) (*Membership, error) {
	r, err := s.grantableRole(ac, string(role))
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}

	m := &Membership{OrgID: orgID, UserID: u.ID, Role: r, IsActive: true, Username: u.Username}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.members.Create(ctx, m); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return apperr.Conflict("user %s is already a member", u.Username)
			}
			return err
		}
		return s.record(ctx, withOrg(ac, orgID), &AuditLog{
			Action:       ActionMembershipAdded,
			TargetUserID: &u.ID,
			TargetOrgID:  &orgID,
			Details:      fmt.Sprintf("role=%s", r),
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// grantableRole parses role. Only superusers may hand out the superuser role.
func (s *Service) grantableRole(ac *auth.AccessContext, role string) (auth.Role, error) {
	r, err := auth.ParseRole(role)
	if err != nil {
		return "", err
	}
	if r == auth.RoleSuperuser && !ac.IsSuperuser {
		return "", apperr.Forbidden("only a superuser may grant the superuser role")
	}
	return r, nil
}

// MembershipPatch changes a membership's role or active flag.
type MembershipPatch struct {
	Role     *auth.Role `json:"role"`
	IsActive *bool      `json:"is_active"`
}

func (s *Service) UpdateMembership(ctx context.Context, ac *auth.AccessContext, id uuid.UUID, patch MembershipPatch) (*Membership, error) {
	if err := auth.Authorize(ac, auth.OpMemberManage); err != nil {
		return nil, err
	}
	if patch.Role == nil && patch.IsActive == nil {
		return nil, apperr.Validation("nothing to update")
	}

	var m *Membership
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if m, err = s.members.GetByID(ctx, ac.OrgID, id); err != nil {
			return err
		}
		var changes []string
		action := ActionMembershipUpdated
		if patch.Role != nil && *patch.Role != m.Role {
			r, err := s.grantableRole(ac, string(*patch.Role))
			if err != nil {
				return err
			}
			changes = append(changes, fmt.Sprintf("role %s -> %s", m.Role, r))
			m.Role = r
			action = ActionRoleChanged
		}
		if patch.IsActive != nil && *patch.IsActive != m.IsActive {
			if m.UserID == ac.UserID && !*patch.IsActive {
				return apperr.Validation("you cannot deactivate your own membership")
			}
			changes = append(changes, fmt.Sprintf("is_active=%t", *patch.IsActive))
			m.IsActive = *patch.IsActive
		}
		if len(changes) == 0 {
			return nil
		}
		if err := s.members.Update(ctx, m); err != nil {
			return err
		}
		return s.record(ctx, ac, &AuditLog{
			Action:       action,
			TargetUserID: &m.UserID,
			Details:      strings.Join(changes, "; "),
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListMembers(ctx context.Context, ac *auth.AccessContext, limit, offset int) ([]*Membership, int, error) {
	if err := auth.Authorize(ac, auth.OpMemberRead); err != nil {
		return nil, 0, err
	}
	return s.members.ListByOrg(ctx, ac.OrgID, limit, offset)
}

// ListRadiologists lists the radiologists cases can be assigned to.
func (s *Service) ListRadiologists(ctx context.Context, ac *auth.AccessContext) ([]*Radiologist, error) {
	if err := auth.Authorize(ac, auth.OpReferenceRead); err != nil {
		return nil, err
	}
	return s.members.ListRadiologists(ctx, ac.OrgID)
}

// ProfileInput carries editable radiologist profile fields.
type ProfileInput struct {
	DisplayName string `json:"display_name"`
	GMC         string `json:"gmc"`
	Specialty   string `json:"specialty"`
}

func (s *Service) SetRadiologistProfile(ctx context.Context, ac *auth.AccessContext, userID uuid.UUID, in ProfileInput) (*RadiologistProfile, error) {
	if err := auth.Authorize(ac, auth.OpMemberManage); err != nil {
		return nil, err
	}
	p := &RadiologistProfile{
		UserID:      userID,
		DisplayName: strings.TrimSpace(in.DisplayName),
		GMC:         strings.TrimSpace(in.GMC),
		Specialty:   strings.TrimSpace(in.Specialty),
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.members.Get(ctx, ac.OrgID, userID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.NotFound("user not found")
			}
			return err
		}
		if err := s.users.UpsertProfile(ctx, p); err != nil {
			return err
		}
		return s.record(ctx, ac, &AuditLog{Action: ActionProfileUpdated, TargetUserID: &userID})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, ac *auth.AccessContext, limit, offset int) ([]*AuditLog, int, error) {
	if err := auth.Authorize(ac, auth.OpAuditRead); err != nil {
		return nil, 0, err
	}
	return s.audit.ListByOrg(ctx, ac.OrgID, limit, offset)
}

// -- Lookups used by other domains --

// User returns a user by id.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// Organisation returns an organisation by id.
func (s *Service) Organisation(ctx context.Context, id uuid.UUID) (*Organisation, error) {
	return s.orgs.GetByID(ctx, id)
}

// Profile returns the radiologist profile for userID.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*RadiologistProfile, error) {
	return s.users.GetProfile(ctx, userID)
}

// IsActiveRadiologist reports whether userID holds an active radiologist
// membership in orgID.
func (s *Service) IsActiveRadiologist(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	m, err := s.members.Get(ctx, orgID, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.IsActive && m.Role == auth.RoleRadiologist, nil
}

// Record writes an audit entry attributed to ac within the caller's
// transaction, if any.
func (s *Service) Record(ctx context.Context, ac *auth.AccessContext, entry *AuditLog) error {
	return s.record(ctx, ac, entry)
}

func (s *Service) record(ctx context.Context, ac *auth.AccessContext, entry *AuditLog) error {
	if ac != nil {
		if entry.UserID == nil {
			entry.UserID = uuidPtr(ac.UserID)
		}
		if entry.OrgID == nil {
			entry.OrgID = uuidPtr(ac.OrgID)
		}
	}
	if entry.OrgID == nil && entry.TargetOrgID != nil {
		entry.OrgID = entry.TargetOrgID
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// withOrg returns a copy of ac acting in orgID.
func withOrg(ac *auth.AccessContext, orgID uuid.UUID) *auth.AccessContext {
	if ac == nil {
		return nil
	}
	cp := *ac
	cp.OrgID = orgID
	return &cp
}
