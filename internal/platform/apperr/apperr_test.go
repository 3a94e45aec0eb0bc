package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{Unauthenticated("login required"), http.StatusUnauthorized, "unauthenticated"},
		{OrgContextRequired("select an organisation"), http.StatusPreconditionRequired, "org_context_required"},
		{Forbidden("role org_user cannot vet"), http.StatusForbidden, "forbidden"},
		{NotFound("case not found"), http.StatusNotFound, "not_found"},
		{Validation("protocol is required"), http.StatusBadRequest, "validation_error"},
		{Conflict("case is approved"), http.StatusConflict, "conflict"},
		{fmt.Errorf("update case: %w", Conflict("version mismatch")), http.StatusConflict, "conflict"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestError_Is(t *testing.T) {
	err := NotFound("case %s not found", "20240101-ABCD")
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("did not expect errors.Is to match ErrConflict")
	}
	if err.Error() != "case 20240101-ABCD not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestToHTTP_HidesInternalErrors(t *testing.T) {
	he := ToHTTP(errors.New("pq: connection refused"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	body, ok := he.Message.(Response)
	if !ok {
		t.Fatalf("expected Response body, got %T", he.Message)
	}
	if body.Message != "internal server error" {
		t.Errorf("internal error text leaked: %q", body.Message)
	}
}

func TestToHTTP_NotFoundBody(t *testing.T) {
	he := ToHTTP(NotFound("case not found"))
	if he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", he.Code)
	}
	body := he.Message.(Response)
	if body.Message != "case not found" || body.Code != "not_found" {
		t.Errorf("unexpected body: %+v", body)
	}
}
