package telemetry

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	_ "modernc.org/sqlite"
)

func TestTelemetryConfig_Defaults(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})

	if tp.cfg.ServiceName != "vetting-server" {
		t.Fatalf("expected default ServiceName, got %q", tp.cfg.ServiceName)
	}
	if tp.cfg.ServiceVersion != "0.0.0" {
		t.Fatalf("expected default ServiceVersion, got %q", tp.cfg.ServiceVersion)
	}
	if !tp.cfg.metricsOn() {
		t.Fatal("expected metrics on by default")
	}
}

func TestCaseTransition_Counts(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})

	tp.CaseTransition("", "pending")
	tp.CaseTransition("pending", "rejected")
	tp.CaseTransition("pending", "rejected")

	if got := testutil.ToFloat64(tp.transitions.WithLabelValues("none", "pending")); got != 1 {
		t.Errorf("expected 1 creation, got %v", got)
	}
	if got := testutil.ToFloat64(tp.transitions.WithLabelValues("pending", "rejected")); got != 2 {
		t.Errorf("expected 2 rejections, got %v", got)
	}
}

func TestNilProvider_IsSafe(t *testing.T) {
	var tp *TelemetryProvider
	tp.CaseTransition("pending", "vetted")
	tp.ExportRendered("pdf", 3)
	tp.ObserveAccess("cases", "read", 200)
	if err := tp.RegisterSQLDB(nil, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	called := false
	_ = tp.MetricsMiddleware()(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	if !called {
		t.Error("expected handler to run with nil provider")
	}
}

func TestExportRendered(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	tp.ExportRendered("csv", 1)
	tp.ExportRendered("pdf", 4)
	tp.ExportRendered("pdf", 0)

	if got := testutil.ToFloat64(tp.exports.WithLabelValues("pdf")); got != 4 {
		t.Errorf("expected 4 pdfs, got %v", got)
	}
}

func TestMetricsMiddleware_RecordsRouteAndStatus(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases/20240101-AAAA", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/cases/:id")

	_ = tp.MetricsMiddleware()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	})(c)

	if got := testutil.ToFloat64(tp.requests.WithLabelValues("GET", "/api/v1/cases/:id", "404")); got != 1 {
		t.Errorf("expected one 404 on the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(tp.inFlight); got != 0 {
		t.Errorf("expected no in-flight requests, got %v", got)
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false)})
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), httptest.NewRecorder())
	c.SetPath("/x")
	_ = tp.MetricsMiddleware()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)

	if got := testutil.CollectAndCount(tp.requests); got != 0 {
		t.Errorf("expected no samples when disabled, got %d", got)
	}
}

func TestPrometheusHandler_Exposition(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{ServiceVersion: "1.2.3"})
	tp.CaseTransition("reopened", "vetted")
	tp.ObserveAccess("cases", "create", 201)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)
	if err := tp.PrometheusHandler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`vetting_case_transitions_total{from="reopened",to="vetted"} 1`,
		`vetting_api_access_total{action="create",resource="cases",status="201"} 1`,
		`version="1.2.3"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}

func TestRegisterSQLDB(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	tp := NewTelemetryProvider(TelemetryConfig{})
	if err := tp.RegisterSQLDB(db, "vetting"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := tp.RegisterSQLDB(db, "vetting"); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
