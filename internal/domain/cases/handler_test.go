package cases

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
)

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

func withID(c echo.Context, id string) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_SubmitIgnoresBodyOrg(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t, "north")
	b := f.tenant(t, "south")
	h := NewHandler(f.svc)
	e := echo.New()

	body := fmt.Sprintf(`{"org_id":%q,"patient_first_name":"Ada","patient_surname":"Lovelace","patient_referral_id":"R1",`+
		`"institution_id":%q,"study_description":"CT Chest","radiologist_id":%q}`,
		b.org.ID, a.inst.ID, a.radiologist.UserID)
	c, rec := newRequest(e, http.MethodPost, "/api/v1/cases", body, a.admin)
	if err := h.Submit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created Case
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.OrgID != a.org.ID {
		t.Errorf("case landed in org %s, want %s", created.OrgID, a.org.ID)
	}
	if rec.Header().Get("ETag") != `"1"` || rec.Header().Get(echo.HeaderLocation) != "/api/v1/cases/"+created.ID {
		t.Errorf("unexpected headers %v", rec.Header())
	}
	if strings.Contains(rec.Body.String(), "attachment_key") {
		t.Error("storage key must not be serialised")
	}
}

func TestHandler_Submit_BadBody(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t, "north")
	c, _ := newRequest(echo.New(), http.MethodPost, "/api/v1/cases", `{"institution_id":"nope"}`, a.admin)
	if code := statusOf(t, NewHandler(f.svc).Submit(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Get_ForeignAndMissingLookIdentical(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t, "north")
	b := f.tenant(t, "south")
	x := f.submit(t, a, "Lovelace")
	h := NewHandler(f.svc)
	e := echo.New()

	c, _ := newRequest(e, http.MethodGet, "/api/v1/cases/"+x.ID, "", b.admin)
	foreign := h.Get(withID(c, x.ID))
	c, _ = newRequest(e, http.MethodGet, "/api/v1/cases/20990101-ZZZZ", "", b.admin)
	missing := h.Get(withID(c, "20990101-ZZZZ"))

	if statusOf(t, foreign) != http.StatusNotFound || statusOf(t, missing) != http.StatusNotFound {
		t.Fatalf("expected 404s, got %v and %v", foreign, missing)
	}
	fb, _ := json.Marshal(foreign.(*echo.HTTPError).Message)
	mb, _ := json.Marshal(missing.(*echo.HTTPError).Message)
	if !bytes.Equal(fb, mb) {
		t.Errorf("bodies differ: %s vs %s", fb, mb)
	}
}

func TestHandler_List(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t, "north")
	f.submit(t, a, "One")
	f.submit(t, a, "Two")
	h := NewHandler(f.svc)

	c, rec := newRequest(echo.New(), http.MethodGet, "/api/v1/cases?tab=pending&limit=1", "", a.admin)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Case `json:"data"`
		Total   int    `json:"total"`
		HasMore bool   `json:"has_more"`
		Tab     string `json:"tab"`
		Counts  Counts `json:"counts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Total != 2 || !resp.HasMore || resp.Tab != "pending" || resp.Counts.Pending != 2 {
		t.Errorf("unexpected list response %s", rec.Body.String())
	}

	c, _ = newRequest(echo.New(), http.MethodGet, "/api/v1/cases?from=yesterday", "", a.admin)
	if code := statusOf(t, h.List(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad date, got %d", code)
	}
}

func TestHandler_Update_IfMatch(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t, "north")
	x := f.submit(t, a, "Lovelace")
	h := NewHandler(f.svc)
	e := echo.New()

	c, rec := newRequest(e, http.MethodPatch, "/api/v1/cases/"+x.ID, `{"admin_notes":"first"}`, a.admin)
	c.Request().Header.Set("If-Match", `"1"`)
	if err := h.Update(withID(c, x.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("ETag") != `"2"` {
		t.Errorf("expected ETag \"2\", got %s", rec.Header().Get("ETag"))
	}

	c, _ = newRequest(e, http.MethodPatch, "/api/v1/cases/"+x.ID, `{"admin_notes":"second"}`, a.admin)
	c.Request().Header.Set("If-Match", `W/"1"`)
	if code := statusOf(t, h.Update(withID(c, x.ID))); code != http.StatusConflict {
		t.Errorf("expected 409 for a stale If-Match, got %d", code)
	}

	c, _ = newRequest(e, http.MethodPatch, "/api/v1/cases/"+x.ID, `{"admin_notes":"third"}`, a.admin)
	c.Request().Header.Set("If-Match", "*")
	if code := statusOf(t, h.Update(withID(c, x.ID))); code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unusable If-Match, got %d", code)
	}
}

func TestHandler_VetAndReopen(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t, "north")
	x := f.submit(t, a, "Lovelace")
	h := NewHandler(f.svc)
	e := echo.New()

	c, _ := newRequest(e, http.MethodPost, "/api/v1/cases/"+x.ID+"/vet", `{"decision":"Reject"}`, a.radiologist)
	if code := statusOf(t, h.Vet(withID(c, x.ID))); code != http.StatusBadRequest {
		t.Errorf("expected 400 for reject without comment, got %d", code)
	}

	c, rec := newRequest(e, http.MethodPost, "/api/v1/cases/"+x.ID+"/vet", `{"decision":"Reject","comment":"needs review"}`, a.radiologist)
	if err := h.Vet(withID(c, x.ID)); err != nil {
		t.Fatalf("vet: %v", err)
	}
	var got Case
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusRejected {
		t.Errorf("expected rejected, got %s", got.Status)
	}

	c, rec = newRequest(e, http.MethodPost, "/api/v1/cases/"+x.ID+"/reopen", `{"reason":"re-check"}`, a.admin)
	if err := h.Reopen(withID(c, x.ID)); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got = Case{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusReopened || got.Decision != nil || got.VettedAt != nil {
		t.Errorf("unexpected reopened case %s", rec.Body.String())
	}
}

func multipartBody(t *testing.T, field, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHandler_Attachment(t *testing.T) {
	f := newFixture(t)
	a := f.tenant(t, "north")
	x := f.submit(t, a, "Lovelace")
	h := NewHandler(f.svc)
	e := echo.New()

	pdf := []byte("%PDF-1.4 referral")
	body, ct := multipartBody(t, "file", "referral.pdf", "application/pdf", pdf)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/cases/"+x.ID+"/attachment", body)
	req.Header.Set(echo.HeaderContentType, ct)
	req = req.WithContext(auth.WithAccess(req.Context(), a.admin))
	rec := httptest.NewRecorder()
	if err := h.PutAttachment(withID(e.NewContext(req, rec), x.ID)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	var got Case
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.AttachmentName == nil || *got.AttachmentName != "referral.pdf" {
		t.Errorf("unexpected attachment name in %s", rec.Body.String())
	}

	c, rec := newRequest(e, http.MethodGet, "/api/v1/cases/"+x.ID+"/attachment", "", a.radiologist)
	if err := h.GetAttachment(withID(c, x.ID)); err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(rec.Body.Bytes(), pdf) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderContentType) != "application/pdf" ||
		rec.Header().Get(echo.HeaderContentDisposition) != `attachment; filename="referral.pdf"` {
		t.Errorf("unexpected headers %v", rec.Header())
	}

	c, _ = newRequest(e, http.MethodPut, "/api/v1/cases/"+x.ID+"/attachment", `{}`, a.admin)
	if code := statusOf(t, h.PutAttachment(withID(c, x.ID))); code != http.StatusBadRequest {
		t.Errorf("expected 400 without a file field, got %d", code)
	}
}
