package reporting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/blobstore"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/telemetry"
)

// Source supplies export data. Implementations enforce org scoping and the
// caller's capabilities.
type Source interface {
	// ExportRows returns the rows matching the list filters in query, newest
	// first, along with the normalised tab name.
	ExportRows(ctx context.Context, ac *auth.AccessContext, query url.Values) (string, []Row, error)
	CaseReport(ctx context.Context, ac *auth.AccessContext, caseID string) (*CaseReport, error)
	CaseReports(ctx context.Context, ac *auth.AccessContext, query url.Values) (string, []*CaseReport, error)
}

// Handler serves CSV, PDF and zip exports.
type Handler struct {
	src     Source
	blobs   blobstore.Store
	metrics *telemetry.TelemetryProvider
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHandler(src Source, blobs blobstore.Store, metrics *telemetry.TelemetryProvider, logger zerolog.Logger) *Handler {
	return &Handler{
		src:     src,
		blobs:   blobs,
		metrics: metrics,
		logger:  logger.With().Str("component", "reporting").Logger(),
		now:     time.Now,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reports/cases.csv", h.ExportCSV, auth.RequireCapability(auth.OpCaseExport))
	api.GET("/reports/cases.zip", h.ExportZip, auth.RequireCapability(auth.OpCaseExport))
	api.GET("/cases/:id/report.pdf", h.CasePDF, auth.RequireCapability(auth.OpCaseReport))
	api.POST("/cases/:id/report/archive", h.ArchivePDF, auth.RequireCapability(auth.OpCaseReport))
}

func (h *Handler) ExportCSV(c echo.Context) error {
	ctx := c.Request().Context()
	tab, rows, err := h.src.ExportRows(ctx, auth.AccessFromContext(ctx), c.QueryParams())
	if err != nil {
		return apperr.ToHTTP(err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return apperr.ToHTTP(err)
	}
	h.metrics.ExportRendered("csv", len(rows))

	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(CSVFilename(tab, h.now())))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) ExportZip(c echo.Context) error {
	ctx := c.Request().Context()
	tab, reports, err := h.src.CaseReports(ctx, auth.AccessFromContext(ctx), c.QueryParams())
	if err != nil {
		return apperr.ToHTTP(err)
	}

	var buf bytes.Buffer
	res, err := WriteZip(&buf, reports)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if len(res.Failed) > 0 {
		h.logger.Warn().Strs("case_ids", res.Failed).Msg("some reports failed to render")
	}
	h.metrics.ExportRendered("zip", res.Rendered)

	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(ZipFilename(tab, h.now())))
	return c.Blob(http.StatusOK, "application/zip", buf.Bytes())
}

func (h *Handler) CasePDF(c echo.Context) error {
	ctx := c.Request().Context()
	report, err := h.src.CaseReport(ctx, auth.AccessFromContext(ctx), c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}

	var buf bytes.Buffer
	if err := RenderCasePDF(&buf, report); err != nil {
		return apperr.ToHTTP(err)
	}
	h.metrics.ExportRendered("pdf", 1)

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", PDFFilename(report.CaseID)))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

// ArchivePDF renders the report and stores it in the blob store.
func (h *Handler) ArchivePDF(c echo.Context) error {
	ctx := c.Request().Context()
	ac := auth.AccessFromContext(ctx)
	report, err := h.src.CaseReport(ctx, ac, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}

	var buf bytes.Buffer
	if err := RenderCasePDF(&buf, report); err != nil {
		return apperr.ToHTTP(err)
	}

	key := ArchiveKey(ac.OrgID, report.CaseID, h.now())
	info, err := h.blobs.Put(ctx, key, &buf, blobstore.PutOptions{
		ContentType: "application/pdf",
		Metadata: map[string]string{
			"case_id":      report.CaseID,
			"generated_by": ac.Username,
		},
	})
	if err != nil {
		h.logger.Error().Err(err).Str("case_id", report.CaseID).Msg("archive report")
		return apperr.ToHTTP(err)
	}
	h.metrics.ExportRendered("archive", 1)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"case_id": report.CaseID,
		"key":     info.Key,
		"size":    info.Size,
	})
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}
