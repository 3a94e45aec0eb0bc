package reference

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := auth.RequireCapability(auth.OpReferenceRead)
	write := auth.RequireCapability(auth.OpReferenceWrite)

	api.GET("/institutions", h.ListInstitutions, read)
	api.GET("/institutions/:id", h.GetInstitution, read)
	api.POST("/institutions", h.CreateInstitution, write)
	api.PATCH("/institutions/:id", h.UpdateInstitution, write)
	api.DELETE("/institutions/:id", h.DeleteInstitution, write)

	api.GET("/protocols", h.ListProtocols, read)
	api.POST("/protocols", h.CreateProtocol, write)
	api.PATCH("/protocols/:id", h.UpdateProtocol, write)
	api.DELETE("/protocols/:id", h.DeleteProtocol, write)
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

// -- Institutions --

func (h *Handler) ListInstitutions(c echo.Context) error {
	insts, err := h.svc.ListInstitutions(c.Request().Context(), access(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if insts == nil {
		insts = []*Institution{}
	}
	return c.JSON(http.StatusOK, insts)
}

func (h *Handler) GetInstitution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inst, err := h.svc.GetInstitution(c.Request().Context(), access(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) CreateInstitution(c echo.Context) error {
	var in InstitutionInput
	if err := c.Bind(&in); err != nil {
		return bindError()
	}
	inst, err := h.svc.CreateInstitution(c.Request().Context(), access(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, inst)
}

func (h *Handler) UpdateInstitution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch InstitutionPatch
	if err := c.Bind(&patch); err != nil {
		return bindError()
	}
	inst, err := h.svc.UpdateInstitution(c.Request().Context(), access(c), id, patch)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) DeleteInstitution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInstitution(c.Request().Context(), access(c), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Protocols --

// ListProtocols accepts institution_id to include only protocols usable for
// that institution, and active=true to hide retired ones.
func (h *Handler) ListProtocols(c echo.Context) error {
	var f ProtocolFilter
	if v := c.QueryParam("institution_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.ToHTTP(apperr.Validation("invalid institution_id"))
		}
		f.InstitutionID = &id
	}
	f.ActiveOnly = c.QueryParam("active") == "true"

	protos, err := h.svc.ListProtocols(c.Request().Context(), access(c), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if protos == nil {
		protos = []*Protocol{}
	}
	return c.JSON(http.StatusOK, protos)
}

func (h *Handler) CreateProtocol(c echo.Context) error {
	var in ProtocolInput
	if err := c.Bind(&in); err != nil {
		return bindError()
	}
	p, err := h.svc.CreateProtocol(c.Request().Context(), access(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateProtocol(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch ProtocolPatch
	if err := c.Bind(&patch); err != nil {
		return bindError()
	}
	p, err := h.svc.UpdateProtocol(c.Request().Context(), access(c), id, patch)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProtocol(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteProtocol(c.Request().Context(), access(c), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
