package cases

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
)

// Tabs are the status groupings of the worklist.
var Tabs = []string{"all", "pending", "vetted", "rejected", "reopened"}

// sortKeys are the columns a listing may be ordered by.
var sortKeys = map[string]bool{
	"created_at":          true,
	"patient_first_name":  true,
	"patient_surname":     true,
	"patient_referral_id": true,
	"institution_id":      true,
	"tat":                 true,
	"status":              true,
	"study_description":   true,
	"radiologist":         true,
}

const defaultSort = "created_at"

// ParseFilter reads list filters from query parameters. Unknown tabs and
// sort keys fall back to "all" and created_at; malformed ids and dates are
// validation errors. The returned tab names the status grouping.
func ParseFilter(q url.Values) (string, Filter, error) {
	f := Filter{Sort: defaultSort, Desc: true}

	tab := strings.ToLower(strings.TrimSpace(q.Get("tab")))
	if tab == "" {
		tab = strings.ToLower(strings.TrimSpace(q.Get("status")))
	}
	if st, err := ParseStatus(tab); err == nil {
		f.Status = &st
	} else {
		tab = "all"
	}

	var err error
	if f.InstitutionID, err = optionalUUID(q, "institution_id"); err != nil {
		return "", Filter{}, err
	}
	if f.RadiologistID, err = optionalUUID(q, "radiologist_id"); err != nil {
		return "", Filter{}, err
	}
	f.Query = strings.TrimSpace(q.Get("q"))

	if f.From, err = optionalTime(q, "from", false); err != nil {
		return "", Filter{}, err
	}
	if f.To, err = optionalTime(q, "to", true); err != nil {
		return "", Filter{}, err
	}

	if s := q.Get("sort"); sortKeys[s] {
		f.Sort = s
	}
	if strings.EqualFold(q.Get("dir"), "asc") {
		f.Desc = false
	}
	return tab, f, nil
}

func optionalUUID(q url.Values, key string) (*uuid.UUID, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.Validation("invalid %s", key)
	}
	return &id, nil
}

// optionalTime accepts RFC 3339 or a plain date. A plain date used as an
// upper bound covers the whole day.
func optionalTime(q url.Values, key string, upper bool) (*time.Time, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, apperr.Validation("invalid %s: use YYYY-MM-DD or RFC 3339", key)
	}
	if upper {
		t = t.Add(24 * time.Hour)
	}
	return &t, nil
}
