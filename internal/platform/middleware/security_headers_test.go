package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newHeadersServer() *echo.Echo {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/api/v1/reports/cases.csv", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="cases_all.csv"`)
		return c.Blob(http.StatusOK, "text/csv; charset=utf-8", []byte("ID,Status\n20260302-ABCD,pending\n"))
	})
	e.GET("/api/v1/cases/:id/report.pdf", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/pdf", []byte("%PDF-1.4"))
	})
	e.GET("/api/v1/cases/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		}
		return c.JSON(http.StatusOK, map[string]string{"patient_surname": "Lovelace"})
	})
	return e
}

func TestSecurityHeaders_PatientDataIsNeverCached(t *testing.T) {
	e := newHeadersServer()
	tests := []struct {
		name        string
		target      string
		wantStatus  int
		contentType string
	}{
		{"csv export", "/api/v1/reports/cases.csv", http.StatusOK, "text/csv; charset=utf-8"},
		{"pdf report", "/api/v1/cases/20260302-ABCD/report.pdf", http.StatusOK, "application/pdf"},
		{"case json", "/api/v1/cases/20260302-ABCD", http.StatusOK, echo.MIMEApplicationJSON},
		{"not found", "/api/v1/cases/missing", http.StatusNotFound, echo.MIMEApplicationJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get(echo.HeaderContentType); got != tt.contentType {
				t.Errorf("content type %q, want %q", got, tt.contentType)
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control %q, want no-store", got)
			}
			if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options %q, want nosniff", got)
			}
			if got := rec.Header().Get("Referrer-Policy"); got != "no-referrer" {
				t.Errorf("Referrer-Policy %q, want no-referrer", got)
			}
		})
	}
}

func TestSecurityHeaders_KeepsDownloadHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	newHeadersServer().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/cases.csv", nil))

	if got := rec.Header().Get(echo.HeaderContentDisposition); got != `attachment; filename="cases_all.csv"` {
		t.Errorf("Content-Disposition %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != "default-src 'none'; frame-ancestors 'none'" {
		t.Errorf("Content-Security-Policy %q", got)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected exports to refuse framing")
	}
}
