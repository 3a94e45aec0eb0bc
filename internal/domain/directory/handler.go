package directory

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes registers the unauthenticated login endpoint. mw is
// applied to it, typically a rate limiter.
func (h *Handler) RegisterPublicRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	api.POST("/auth/login", h.Login, mw...)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/select-org", h.SelectOrganisation)
	api.GET("/me", h.Me)

	su := api.Group("/superuser", auth.RequireCapability(auth.OpOrgManage))
	su.GET("/organisations", h.ListOrganisations)
	su.POST("/organisations", h.CreateOrganisation)
	su.PATCH("/organisations/:id", h.UpdateOrganisation)
	su.GET("/organisations/:id/members", h.ListOrganisationMembers)
	su.POST("/organisations/:id/members", h.AddOrganisationMember)

	api.GET("/members", h.ListMembers, auth.RequireCapability(auth.OpMemberRead))
	api.PATCH("/members/:id", h.UpdateMembership, auth.RequireCapability(auth.OpMemberManage))
	api.POST("/members", h.AddMember, auth.RequireCapability(auth.OpMemberManage))
	api.POST("/users", h.CreateUser, auth.RequireCapability(auth.OpMemberManage))
	api.PUT("/users/:id/radiologist-profile", h.SetRadiologistProfile, auth.RequireCapability(auth.OpMemberManage))
	api.GET("/radiologists", h.ListRadiologists, auth.RequireCapability(auth.OpReferenceRead))
	api.GET("/audit-logs", h.ListAuditLogs, auth.RequireCapability(auth.OpAuditRead))
}

func bindError() error {
	return apperr.ToHTTP(apperr.Validation("invalid request body"))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.ToHTTP(apperr.Validation("invalid id"))
	}
	return id, nil
}

func access(c echo.Context) *auth.AccessContext {
	return auth.AccessFromContext(c.Request().Context())
}

// -- Sessions --

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	if req.Username == "" || req.Password == "" {
		return apperr.ToHTTP(apperr.Validation("username and password are required"))
	}
	sess, err := h.svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type selectOrgRequest struct {
	OrgID uuid.UUID `json:"org_id"`
}

func (h *Handler) SelectOrganisation(c echo.Context) error {
	var req selectOrgRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	if req.OrgID == uuid.Nil {
		return apperr.ToHTTP(apperr.Validation("org_id is required"))
	}
	sess, err := h.svc.SelectOrganisation(c.Request().Context(), access(c), req.OrgID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Me(c echo.Context) error {
	me, err := h.svc.Me(c.Request().Context(), access(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, me)
}

// -- Superuser --

type createOrganisationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *Handler) CreateOrganisation(c echo.Context) error {
	var req createOrganisationRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	org, err := h.svc.CreateOrganisation(c.Request().Context(), access(c), req.Name, req.Slug)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, org)
}

func (h *Handler) ListOrganisations(c echo.Context) error {
	p := pagination.FromContext(c)
	orgs, total, err := h.svc.ListOrganisations(c.Request().Context(), access(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(orgs, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

type updateOrganisationRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h *Handler) UpdateOrganisation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateOrganisationRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	if req.IsActive == nil {
		return apperr.ToHTTP(apperr.Validation("is_active is required"))
	}
	org, err := h.svc.SetOrganisationActive(c.Request().Context(), access(c), id, *req.IsActive)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, org)
}

func (h *Handler) ListOrganisationMembers(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	ms, total, err := h.svc.ListOrganisationMembers(c.Request().Context(), access(c), id, p.Limit, p.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ms, total, p.Limit, p.Offset))
}

type addMemberRequest struct {
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

func (h *Handler) AddOrganisationMember(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req addMemberRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	m, err := h.svc.AddOrganisationMember(c.Request().Context(), access(c), id, req.Username, req.Role)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

// -- Org admin --

func (h *Handler) ListMembers(c echo.Context) error {
	p := pagination.FromContext(c)
	ms, total, err := h.svc.ListMembers(c.Request().Context(), access(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ms, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) AddMember(c echo.Context) error {
	var req addMemberRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	m, err := h.svc.AddMember(c.Request().Context(), access(c), req.Username, req.Role)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in CreateUserInput
	if err := c.Bind(&in); err != nil {
		return bindError()
	}
	u, m, err := h.svc.CreateUser(c.Request().Context(), access(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"user":       u,
		"membership": m,
	})
}

func (h *Handler) UpdateMembership(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch MembershipPatch
	if err := c.Bind(&patch); err != nil {
		return bindError()
	}
	m, err := h.svc.UpdateMembership(c.Request().Context(), access(c), id, patch)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) SetRadiologistProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return bindError()
	}
	p, err := h.svc.SetRadiologistProfile(c.Request().Context(), access(c), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListRadiologists(c echo.Context) error {
	rads, err := h.svc.ListRadiologists(c.Request().Context(), access(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if rads == nil {
		rads = []*Radiologist{}
	}
	return c.JSON(http.StatusOK, rads)
}

func (h *Handler) ListAuditLogs(c echo.Context) error {
	p := pagination.FromContext(c)
	logs, total, err := h.svc.ListAuditLogs(c.Request().Context(), access(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}
