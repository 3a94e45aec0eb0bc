package cases

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/cases", h.List, auth.RequireCapability(auth.OpCaseRead))
	api.POST("/cases", h.Submit, auth.RequireCapability(auth.OpCaseSubmit))
	api.GET("/cases/:id", h.Get, auth.RequireCapability(auth.OpCaseRead))
	api.PATCH("/cases/:id", h.Update, auth.RequireCapability(auth.OpCaseEdit))
	api.POST("/cases/:id/vet", h.Vet, auth.RequireCapability(auth.OpCaseVet))
	api.POST("/cases/:id/reopen", h.Reopen, auth.RequireCapability(auth.OpCaseReopen))
	api.PUT("/cases/:id/attachment", h.PutAttachment, auth.RequireCapability(auth.OpCaseEdit))
	api.GET("/cases/:id/attachment", h.GetAttachment, auth.RequireCapability(auth.OpCaseAttachment))
}

func bindError() error {
	return apperr.ToHTTP(apperr.Validation("invalid request body"))
}

func access(c echo.Context) *auth.AccessContext {
	return auth.AccessFromContext(c.Request().Context())
}

func etag(cs *Case) string {
	return strconv.Quote(strconv.Itoa(cs.Version))
}

// writeCase sends cs with its version as the entity tag.
func writeCase(c echo.Context, status int, cs *Case) error {
	c.Response().Header().Set("ETag", etag(cs))
	return c.JSON(status, cs)
}

type listResponse struct {
	*pagination.Response
	Tab    string  `json:"tab"`
	Counts *Counts `json:"counts"`
}

func (h *Handler) List(c echo.Context) error {
	tab, f, err := ParseFilter(c.QueryParams())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	p := pagination.FromContext(c)
	out, total, counts, err := h.svc.List(c.Request().Context(), access(c), f, p.Limit, p.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if out == nil {
		out = []*Case{}
	}
	return c.JSON(http.StatusOK, listResponse{
		Response: pagination.NewResponse(out, total, p.Limit, p.Offset).WithLinks(c.Request().URL),
		Tab:      tab,
		Counts:   counts,
	})
}

func (h *Handler) Submit(c echo.Context) error {
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return bindError()
	}
	cs, err := h.svc.Submit(c.Request().Context(), access(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/cases/"+cs.ID)
	return writeCase(c, http.StatusCreated, cs)
}

func (h *Handler) Get(c echo.Context) error {
	cs, err := h.svc.Get(c.Request().Context(), access(c), c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return writeCase(c, http.StatusOK, cs)
}

// Update accepts the expected version in the body or as an If-Match header.
func (h *Handler) Update(c echo.Context) error {
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return bindError()
	}
	if patch.Version == nil {
		if m := c.Request().Header.Get("If-Match"); m != "" {
			v, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(m, "W/"), `"`))
			if err != nil {
				return apperr.ToHTTP(apperr.Validation("invalid If-Match header"))
			}
			patch.Version = &v
		}
	}
	cs, err := h.svc.Update(c.Request().Context(), access(c), c.Param("id"), patch)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return writeCase(c, http.StatusOK, cs)
}

func (h *Handler) Vet(c echo.Context) error {
	var in VetInput
	if err := c.Bind(&in); err != nil {
		return bindError()
	}
	cs, err := h.svc.Vet(c.Request().Context(), access(c), c.Param("id"), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return writeCase(c, http.StatusOK, cs)
}

type reopenRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reopen(c echo.Context) error {
	var req reopenRequest
	if err := c.Bind(&req); err != nil {
		return bindError()
	}
	cs, err := h.svc.Reopen(c.Request().Context(), access(c), c.Param("id"), req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return writeCase(c, http.StatusOK, cs)
}

// PutAttachment stores the multipart form file "file".
func (h *Handler) PutAttachment(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("multipart field \"file\" is required"))
	}
	f, err := fh.Open()
	if err != nil {
		return apperr.ToHTTP(fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	cs, err := h.svc.AttachFile(c.Request().Context(), access(c), c.Param("id"), Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return writeCase(c, http.StatusOK, cs)
}

func (h *Handler) GetAttachment(c echo.Context) error {
	name, info, body, err := h.svc.Attachment(c.Request().Context(), access(c), c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	defer body.Close()

	ct := info.ContentType
	if ct == "" {
		ct = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	if info.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	return c.Stream(http.StatusOK, ct, body)
}
