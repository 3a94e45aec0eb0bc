package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func newRequest(e *echo.Echo, method, target, body string, ac *auth.AccessContext) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if ac != nil {
		req = req.WithContext(auth.WithAccess(req.Context(), ac))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_Login(t *testing.T) {
	h, f, e := newTestHandler()
	org := f.org(t, "north")
	f.member(t, org, f.user(t, "alice", "correct-horse", false), auth.RoleOrgUser)

	c, rec := newRequest(e, http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"correct-horse"}`, nil)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["token"] == "" || body["org_id"] != org.ID.String() {
		t.Errorf("unexpected body %v", body)
	}
	user := body["user"].(map[string]interface{})
	if _, leaked := user["password_hash"]; leaked {
		t.Error("password hash must not be serialised")
	}
}

func TestHandler_Login_BadCredentials(t *testing.T) {
	h, f, e := newTestHandler()
	f.user(t, "alice", "correct-horse", false)

	c, _ := newRequest(e, http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"nope-nope"}`, nil)
	if got := statusOf(t, h.Login(c)); got != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", got)
	}

	c, _ = newRequest(e, http.MethodPost, "/api/v1/auth/login", `{"username":"alice"}`, nil)
	if got := statusOf(t, h.Login(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_CreateOrganisation(t *testing.T) {
	h, _, e := newTestHandler()

	c, rec := newRequest(e, http.MethodPost, "/api/v1/superuser/organisations", `{"name":"North","slug":"north"}`, system)
	if err := h.CreateOrganisation(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = newRequest(e, http.MethodPost, "/api/v1/superuser/organisations", `{"name":"North","slug":"north"}`, system)
	if got := statusOf(t, h.CreateOrganisation(c)); got != http.StatusConflict {
		t.Errorf("expected 409, got %d", got)
	}
}

func TestHandler_UpdateOrganisation(t *testing.T) {
	h, f, e := newTestHandler()
	org := f.org(t, "north")

	c, rec := newRequest(e, http.MethodPatch, "/", `{"is_active":false}`, system)
	c.SetParamNames("id")
	c.SetParamValues(org.ID.String())
	if err := h.UpdateOrganisation(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || f.orgs.orgs[org.ID].IsActive {
		t.Errorf("expected organisation disabled, got %d", rec.Code)
	}

	c, _ = newRequest(e, http.MethodPatch, "/", `{}`, system)
	c.SetParamNames("id")
	c.SetParamValues(org.ID.String())
	if got := statusOf(t, h.UpdateOrganisation(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}

	c, _ = newRequest(e, http.MethodPatch, "/", `{"is_active":true}`, system)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if got := statusOf(t, h.UpdateOrganisation(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_ListMembers(t *testing.T) {
	h, f, e := newTestHandler()
	org := f.org(t, "north")
	admin := f.user(t, "admin", "", false)
	f.member(t, org, admin, auth.RoleOrgAdmin)

	c, rec := newRequest(e, http.MethodGet, "/api/v1/members?limit=5", "", adminOf(org, admin))
	if err := h.ListMembers(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
		Limit int `json:"limit"`
		Links struct {
			Self string `json:"self"`
		} `json:"links"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || body.Limit != 5 || body.Links.Self == "" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListMembers_NoOrg(t *testing.T) {
	h, f, e := newTestHandler()
	admin := f.user(t, "admin", "", false)

	c, rec := newRequest(e, http.MethodGet, "/api/v1/members", "", &auth.AccessContext{UserID: admin.ID})
	err := h.ListMembers(c)
	if got := statusOf(t, err); got != http.StatusPreconditionRequired {
		t.Errorf("expected 428, got %d", got)
	}
	e.HTTPErrorHandler(err, c)
	if !strings.Contains(rec.Body.String(), "org_context_required") {
		t.Errorf("expected org_context_required code, got %s", rec.Body.String())
	}
}

func TestHandler_CreateUser(t *testing.T) {
	h, f, e := newTestHandler()
	org := f.org(t, "north")
	admin := f.user(t, "admin", "", false)

	body := `{"username":"olivia","password":"long-enough","role":"radiologist"}`
	c, rec := newRequest(e, http.MethodPost, "/api/v1/users", body, adminOf(org, admin))
	if err := h.CreateUser(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "salt") {
		t.Error("salt must not be serialised")
	}
}

func TestHandler_SetRadiologistProfile(t *testing.T) {
	h, f, e := newTestHandler()
	org := f.org(t, "north")
	admin := f.user(t, "admin", "", false)
	rad := f.user(t, "pat", "", false)
	f.member(t, org, rad, auth.RoleRadiologist)

	c, rec := newRequest(e, http.MethodPut, "/", `{"display_name":"Dr Pat","gmc":"42"}`, adminOf(org, admin))
	c.SetParamNames("id")
	c.SetParamValues(rad.ID.String())
	if err := h.SetRadiologistProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	p, err := f.users.GetProfile(context.Background(), rad.ID)
	if err != nil || p.GMC != "42" {
		t.Errorf("expected stored profile, got %+v (%v)", p, err)
	}
}

func TestHandler_ListRadiologists_Empty(t *testing.T) {
	h, f, e := newTestHandler()
	org := f.org(t, "north")
	admin := f.user(t, "admin", "", false)

	c, rec := newRequest(e, http.MethodGet, "/api/v1/radiologists", "", adminOf(org, admin))
	if err := h.ListRadiologists(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_Me(t *testing.T) {
	h, f, e := newTestHandler()
	org := f.org(t, "north")
	u := f.user(t, "quinn", "", false)
	f.member(t, org, u, auth.RoleOrgUser)

	c, rec := newRequest(e, http.MethodGet, "/api/v1/me", "",
		&auth.AccessContext{UserID: u.ID, Username: u.Username, OrgID: org.ID, Role: auth.RoleOrgUser})
	if err := h.Me(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var me Me
	json.Unmarshal(rec.Body.Bytes(), &me)
	if me.Role != auth.RoleOrgUser || me.OrgID == nil || *me.OrgID != org.ID || len(me.Memberships) != 1 {
		t.Errorf("unexpected me %+v", me)
	}
}
