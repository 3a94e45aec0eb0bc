package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
)

// AccessEntry records one API access: who, in which organisation, under
// which role, against which resource.
type AccessEntry struct {
	UserID       string
	OrgID        string
	Role         string
	ResourceType string
	CaseID       string
	Action       string // read, create, update, delete
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder receives every AccessEntry the middleware produces.
type AuditRecorder interface {
	RecordAccess(entry AccessEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AccessEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// Audit logs an access event for every /api/v1/ request once the handler has
// run. Recorder failures are logged and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := AccessEntry{
				Timestamp:    time.Now().UTC(),
				Path:         path,
				Method:       req.Method,
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				StatusCode:   c.Response().Status,
				Action:       httpMethodToAction(req.Method),
				ResourceType: extractResourceType(path),
				CaseID:       extractCaseID(path),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			// The handler may have replaced the request, so read the
			// access context from the current one.
			if ac := auth.AccessFromContext(c.Request().Context()); ac != nil {
				entry.UserID = ac.UserID.String()
				if ac.HasOrg() {
					entry.OrgID = ac.OrgID.String()
				}
				entry.Role = string(ac.Role)
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("org_id", entry.OrgID).
				Str("role", entry.Role).
				Str("resource_type", entry.ResourceType).
				Str("case_id", entry.CaseID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResourceType returns the first segment after /api/v1/.
//
//   - /api/v1/cases          -> cases
//   - /api/v1/cases/ID/vet   -> cases
//   - /api/v1/reports/x.csv  -> reports
func extractResourceType(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractCaseID returns the case id from /api/v1/cases/<id>[/...].
func extractCaseID(path string) string {
	if !strings.HasPrefix(path, "/api/v1/cases/") {
		return ""
	}
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/cases/"), "/")
	if len(segments) > 0 && isCaseIDLike(segments[0]) {
		return segments[0]
	}
	return ""
}

// isCaseIDLike checks the YYYYMMDD-XXXX shape.
func isCaseIDLike(s string) bool {
	if len(s) != 13 || s[8] != '-' {
		return false
	}
	for i, r := range s {
		switch {
		case i == 8:
		case i < 8 && (r < '0' || r > '9'):
			return false
		case i > 8 && !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')):
			return false
		}
	}
	return true
}
