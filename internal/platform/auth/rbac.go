package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
)

// Role is a membership role within one organisation.
type Role string

const (
	RoleSuperuser   Role = "superuser"
	RoleOrgAdmin    Role = "org_admin"
	RoleRadiologist Role = "radiologist"
	RoleOrgUser     Role = "org_user"
)

// Roles lists every assignable membership role.
var Roles = []Role{RoleSuperuser, RoleOrgAdmin, RoleRadiologist, RoleOrgUser}

// ParseRole validates s as a membership role.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", apperr.Validation("invalid role %q", s)
}

// Operation names an action subject to the capability check.
type Operation string

const (
	OpCaseSubmit     Operation = "case.submit"
	OpCaseRead       Operation = "case.read"
	OpCaseEdit       Operation = "case.edit"
	OpCaseVet        Operation = "case.vet"
	OpCaseReopen     Operation = "case.reopen"
	OpCaseExport     Operation = "case.export"
	OpCaseReport     Operation = "case.report"
	OpCaseAttachment Operation = "case.attachment"
	OpReferenceRead  Operation = "reference.read"
	OpReferenceWrite Operation = "reference.write"
	OpMemberRead     Operation = "member.read"
	OpMemberManage   Operation = "member.manage"
	OpAuditRead      Operation = "audit.read"

	// OpOrgManage covers organisation listing and management across tenants.
	OpOrgManage Operation = "org.manage"
)

// roleMatrix is the only place that decides which role may perform which
// org-scoped operation.
var roleMatrix = map[Operation][]Role{
	OpCaseSubmit:     {RoleSuperuser, RoleOrgAdmin},
	OpCaseRead:       {RoleSuperuser, RoleOrgAdmin, RoleRadiologist, RoleOrgUser},
	OpCaseEdit:       {RoleSuperuser, RoleOrgAdmin},
	OpCaseVet:        {RoleRadiologist},
	OpCaseReopen:     {RoleSuperuser, RoleOrgAdmin},
	OpCaseExport:     {RoleSuperuser, RoleOrgAdmin},
	OpCaseReport:     {RoleSuperuser, RoleOrgAdmin, RoleRadiologist},
	OpCaseAttachment: {RoleSuperuser, RoleOrgAdmin, RoleRadiologist},
	OpReferenceRead:  {RoleSuperuser, RoleOrgAdmin, RoleRadiologist, RoleOrgUser},
	OpReferenceWrite: {RoleSuperuser, RoleOrgAdmin},
	OpMemberRead:     {RoleSuperuser, RoleOrgAdmin},
	OpMemberManage:   {RoleSuperuser, RoleOrgAdmin},
	OpAuditRead:      {RoleSuperuser, RoleOrgAdmin},
}

// superuserOps are granted by the superuser capability alone and do not
// need a current organisation.
var superuserOps = map[Operation]bool{
	OpOrgManage: true,
}

// Can reports whether role may perform op inside an organisation.
func Can(role Role, op Operation) bool {
	for _, r := range roleMatrix[op] {
		if r == role {
			return true
		}
	}
	return false
}

// Authorize is the capability check applied by every service operation.
func Authorize(ac *AccessContext, op Operation) error {
	if ac == nil {
		return apperr.Unauthenticated("authentication required")
	}
	if superuserOps[op] {
		if ac.IsSuperuser {
			return nil
		}
		return apperr.Forbidden("superuser capability required")
	}
	if err := ac.RequireOrg(); err != nil {
		return err
	}
	if !Can(ac.Role, op) {
		return apperr.Forbidden("role %s may not perform %s", ac.Role, op)
	}
	return nil
}

// RequireCapability returns middleware that rejects requests whose access
// context may not perform op. It must run after RequireAccess.
func RequireCapability(op Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ac := AccessFromContext(c.Request().Context())
			if err := Authorize(ac, op); err != nil {
				return apperr.ToHTTP(err)
			}
			return next(c)
		}
	}
}
