package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
)

// AccessContext is the resolved identity for one request. It is built once by
// the Resolver and passed explicitly into every service call.
type AccessContext struct {
	UserID      uuid.UUID
	Username    string
	OrgID       uuid.UUID
	Role        Role
	IsSuperuser bool
}

// HasOrg reports whether a current organisation has been resolved.
func (ac *AccessContext) HasOrg() bool {
	return ac != nil && ac.OrgID != uuid.Nil
}

// RequireOrg fails with OrgContextRequired when no organisation is selected.
func (ac *AccessContext) RequireOrg() error {
	if !ac.HasOrg() {
		return apperr.OrgContextRequired("select an organisation first")
	}
	return nil
}

// Principal is the global identity behind a session.
type Principal struct {
	UserID      uuid.UUID
	Username    string
	IsSuperuser bool
	IsActive    bool
}

// Grant is one active membership of a principal.
type Grant struct {
	OrgID uuid.UUID
	Role  Role
}

// Directory is the subset of the user directory the resolver reads.
type Directory interface {
	// Principal returns apperr.ErrNotFound for unknown users.
	Principal(ctx context.Context, userID uuid.UUID) (*Principal, error)
	// ActiveGrants lists active memberships in active organisations.
	ActiveGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error)
	OrganisationActive(ctx context.Context, orgID uuid.UUID) (bool, error)
}

// Resolver turns session claims into an AccessContext.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve fails closed: unknown or inactive users are Unauthenticated and a
// selected organisation the user cannot act in is Forbidden.
func (r *Resolver) Resolve(ctx context.Context, userID, selectedOrg uuid.UUID) (*AccessContext, error) {
	if userID == uuid.Nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	p, err := r.dir.Principal(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Unauthenticated("unknown user")
		}
		return nil, err
	}
	if !p.IsActive {
		return nil, apperr.Unauthenticated("user is inactive")
	}

	ac := &AccessContext{
		UserID:      p.UserID,
		Username:    p.Username,
		IsSuperuser: p.IsSuperuser,
	}

	grants, err := r.dir.ActiveGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	if selectedOrg != uuid.Nil {
		for _, g := range grants {
			if g.OrgID == selectedOrg {
				ac.OrgID = g.OrgID
				ac.Role = g.Role
				return ac, nil
			}
		}
		if p.IsSuperuser {
			active, err := r.dir.OrganisationActive(ctx, selectedOrg)
			if err != nil {
				return nil, err
			}
			if active {
				ac.OrgID = selectedOrg
				ac.Role = RoleSuperuser
				return ac, nil
			}
		}
		return nil, apperr.Forbidden("no active membership in the selected organisation")
	}

	switch {
	case len(grants) == 1:
		ac.OrgID = grants[0].OrgID
		ac.Role = grants[0].Role
	case len(grants) > 1:
		// Org-bound operations fail later with OrgContextRequired.
	case !p.IsSuperuser:
		return nil, apperr.Forbidden("user has no active organisation membership")
	}
	return ac, nil
}

type accessKey struct{}

// WithAccess stores ac on ctx.
func WithAccess(ctx context.Context, ac *AccessContext) context.Context {
	return context.WithValue(ctx, accessKey{}, ac)
}

// AccessFromContext returns the resolved access context, or nil.
func AccessFromContext(ctx context.Context) *AccessContext {
	ac, _ := ctx.Value(accessKey{}).(*AccessContext)
	return ac
}

// RequireAccess resolves the access context for every authenticated request.
// It must run after JWTMiddleware.
func RequireAccess(resolver *Resolver, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			ctx := c.Request().Context()
			ac, err := resolver.Resolve(ctx, UserIDFromContext(ctx), SelectedOrgFromContext(ctx))
			if err != nil {
				return apperr.ToHTTP(err)
			}
			c.Set("org_id", ac.OrgID.String())
			c.Set("user_id", ac.UserID.String())
			c.SetRequest(c.Request().WithContext(WithAccess(ctx, ac)))
			return next(c)
		}
	}
}
