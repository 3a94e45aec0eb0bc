package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/config"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/directory"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/blobstore"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/sqlitedb"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/telemetry"
)

func TestResolveSigningKey_FromConfig(t *testing.T) {
	key, random, err := resolveSigningKey("0123456789abcdef0123456789abcdef", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if random || string(key) != "0123456789abcdef0123456789abcdef" {
		t.Errorf("expected the configured secret, got %q random=%v", key, random)
	}
}

func TestResolveSigningKey_RequiredOutsideDev(t *testing.T) {
	if _, _, err := resolveSigningKey("", false); err == nil {
		t.Fatal("expected error without JWT_SECRET outside development")
	}
}

func TestResolveSigningKey_RandomInDev(t *testing.T) {
	key, random, err := resolveSigningKey("", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !random || len(key) != 32 {
		t.Errorf("expected a random 32-byte key, got %d bytes random=%v", len(key), random)
	}
	key2, _, _ := resolveSigningKey("", true)
	if string(key) == string(key2) {
		t.Error("two generated keys should differ")
	}
}

func TestNewLogger_Level(t *testing.T) {
	logger := newLogger(&config.Config{Env: "production", LogLevel: "WARN"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %s", logger.GetLevel())
	}
	logger = newLogger(&config.Config{Env: "production", LogLevel: "chatty"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("expected info fallback, got %s", logger.GetLevel())
	}
}

type testServer struct {
	e         *echo.Echo
	instID    string
	radiology string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := sqlitedb.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	cfg := &config.Config{
		Env:             "test",
		JWTIssuer:       "vetting-app",
		TokenTTL:        time.Hour,
		DefaultSLAHours: 48,
		CORSOrigins:     []string{"http://localhost:3000"},
	}
	b := sqliteBackend(conn)
	svc := newServices(b, cfg, nil, zerolog.Nop())

	org, err := svc.directory.CreateOrganisation(ctx, operator, "North Imaging", "north")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	if _, err := svc.reference.SeedDefaults(ctx, org.ID); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ac := *operator
	ac.OrgID = org.ID
	var radiologist *directory.User
	for _, u := range []struct {
		name string
		role auth.Role
	}{{"admin", auth.RoleOrgAdmin}, {"rad", auth.RoleRadiologist}} {
		created, err := svc.directory.CreateGlobalUser(ctx, operator, directory.CreateUserInput{Username: u.name, Password: "password123"})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		if _, err := svc.directory.AddOrganisationMember(ctx, &ac, org.ID, u.name, u.role); err != nil {
			t.Fatalf("add member: %v", err)
		}
		if u.role == auth.RoleRadiologist {
			radiologist = created
		}
	}
	insts, err := b.insts.List(ctx, org.ID)
	if err != nil || len(insts) == 0 {
		t.Fatalf("list institutions: %v", err)
	}

	key := []byte("0123456789abcdef0123456789abcdef")
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{})
	e := newServer(cfg, b, blobstore.NewMemoryStore(), key, tp, zerolog.Nop())
	return &testServer{e: e, instID: insts[0].ID.String(), radiology: radiologist.ID.String()}
}

func (s *testServer) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", fmt.Sprintf(`{"username":%q,"password":"password123"}`, username), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, rec.Code, rec.Body.String())
	}
	var sess struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &sess)
	return sess.Token
}

func TestServer_HealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/health/db", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /health/db, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/cases", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestServer_LoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"wrong-password"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestServer_SubmitVetExport(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin")
	rad := s.login(t, "rad")

	body := fmt.Sprintf(`{"patient_first_name":"Ada","patient_surname":"Lovelace","patient_referral_id":"R-1",`+
		`"institution_id":%q,"study_description":"CT Chest","radiologist_id":%q}`, s.instID, s.radiology)
	rec := s.do(t, http.MethodPost, "/api/v1/cases", body, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)

	if rec := s.do(t, http.MethodPost, "/api/v1/cases", body, rad); rec.Code != http.StatusForbidden {
		t.Errorf("radiologist submit: expected 403, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/cases/"+created.ID+"/vet", `{"decision":"Approve","protocol":"CT Chest Protocol A"}`, rad)
	if rec.Code != http.StatusOK {
		t.Fatalf("vet: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/reports/cases.csv?tab=vetted", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), created.ID) {
		t.Errorf("export does not contain %s:\n%s", created.ID, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/cases/"+created.ID+"/report.pdf", "", rad)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Errorf("pdf: %d", rec.Code)
	}
}
