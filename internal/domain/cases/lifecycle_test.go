package cases

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestCanApply(t *testing.T) {
	tests := []struct {
		action Action
		from   Status
		want   bool
	}{
		{ActionVet, StatusPending, true},
		{ActionVet, StatusReopened, true},
		{ActionVet, StatusVetted, false},
		{ActionVet, StatusRejected, false},
		{ActionReopen, StatusVetted, true},
		{ActionReopen, StatusRejected, true},
		{ActionReopen, StatusPending, false},
		{ActionReopen, StatusReopened, false},
	}
	for _, tt := range tests {
		if got := CanApply(tt.action, tt.from); got != tt.want {
			t.Errorf("CanApply(%s, %s) = %v, want %v", tt.action, tt.from, got, tt.want)
		}
	}
}

func TestParseDecision(t *testing.T) {
	for _, s := range []string{"Approve", "Approve with comment", "Reject", "  Reject "} {
		if _, err := ParseDecision(s); err != nil {
			t.Errorf("ParseDecision(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "approve", "Maybe"} {
		if _, err := ParseDecision(s); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("ParseDecision(%q) = %v, want validation error", s, err)
		}
	}
	assert.Assert(t, DecisionApproveWithComment.IsApprove())
	assert.Assert(t, !DecisionReject.IsApprove())
}

func TestApplyVet(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		in       VetInput
		wantKind error
		want     Status
		protocol string
	}{
		{name: "approve", from: StatusPending, in: VetInput{Decision: "Approve", Protocol: " CT Chest Protocol A "}, want: StatusVetted, protocol: "CT Chest Protocol A"},
		{name: "approve with comment from reopened", from: StatusReopened, in: VetInput{Decision: "Approve with comment", Protocol: "MRI Brain", Comment: "ok"}, want: StatusVetted, protocol: "MRI Brain"},
		{name: "reject clears protocol", from: StatusPending, in: VetInput{Decision: "Reject", Protocol: "ignored", Comment: "needs review"}, want: StatusRejected},
		{name: "reject without comment", from: StatusPending, in: VetInput{Decision: "Reject", Comment: "   "}, wantKind: apperr.ErrValidation},
		{name: "approve without protocol", from: StatusPending, in: VetInput{Decision: "Approve"}, wantKind: apperr.ErrValidation},
		{name: "unknown decision", from: StatusPending, in: VetInput{Decision: "Later"}, wantKind: apperr.ErrValidation},
		{name: "already vetted", from: StatusVetted, in: VetInput{Decision: "Approve", Protocol: "X"}, wantKind: apperr.ErrConflict},
		{name: "invalid input beats state", from: StatusRejected, in: VetInput{Decision: "Reject"}, wantKind: apperr.ErrValidation},
		{name: "protocol too long", from: StatusPending, in: VetInput{Decision: "Approve", Protocol: strings.Repeat("é", maxProtocolLen+1)}, wantKind: apperr.ErrValidation},
		{name: "protocol at limit", from: StatusPending, in: VetInput{Decision: "Approve", Protocol: strings.Repeat("é", maxProtocolLen)}, want: StatusVetted, protocol: strings.Repeat("é", maxProtocolLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Case{Status: tt.from, Protocol: "previous"}
			before := *c
			err := c.applyVet(tt.in, t0)
			if tt.wantKind != nil {
				assert.Assert(t, errors.Is(err, tt.wantKind), "got %v", err)
				assert.DeepEqual(t, *c, before)
				return
			}
			assert.NilError(t, err)
			assert.Equal(t, c.Status, tt.want)
			assert.Equal(t, c.Protocol, tt.protocol)
			assert.Assert(t, c.Decision != nil)
			assert.Assert(t, c.VettedAt != nil && c.VettedAt.Equal(t0))
		})
	}
}

func TestApplyReopen(t *testing.T) {
	d := DecisionReject
	vetted := t0.Add(-time.Hour)
	c := &Case{Status: StatusRejected, Decision: &d, DecisionComment: "needs review", VettedAt: &vetted,
		AdminNotes: "urgent\n", Protocol: "kept"}

	err := c.applyReopen("  re-check ", "admin", t0)
	assert.NilError(t, err)
	assert.Equal(t, c.Status, StatusReopened)
	assert.Assert(t, c.Decision == nil)
	assert.Assert(t, c.VettedAt == nil)
	assert.Equal(t, c.DecisionComment, "")
	assert.Equal(t, c.Protocol, "kept")
	assert.Equal(t, c.AdminNotes, "urgent\n[reopened 2026-03-02T09:00:00Z by admin] re-check")

	err = c.applyReopen("again", "admin", t0)
	assert.Assert(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	fresh := &Case{Status: StatusVetted}
	err = fresh.applyReopen(" ", "admin", t0)
	assert.Assert(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
	assert.Equal(t, fresh.Status, StatusVetted)
}

func TestLocked(t *testing.T) {
	approve, reject := DecisionApprove, DecisionReject
	assert.Assert(t, (&Case{Status: StatusVetted, Decision: &approve}).Locked())
	assert.Assert(t, !(&Case{Status: StatusRejected, Decision: &reject}).Locked())
	assert.Assert(t, !(&Case{Status: StatusPending}).Locked())
	assert.Assert(t, !(&Case{Status: StatusReopened}).Locked())
}

func TestFormatTAT(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{0, "<1m"},
		{4, "4m"},
		{59, "59m"},
		{60, "01h 00m"},
		{184, "03h 04m"},
		{24 * 60, "1d 00h 00m"},
		{2*24*60 + 3*60 + 4, "2d 03h 04m"},
	}
	for _, tt := range tests {
		if got := FormatTAT(tt.minutes); got != tt.want {
			t.Errorf("FormatTAT(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestTATMinutes(t *testing.T) {
	vetted := t0.Add(90*time.Minute + 30*time.Second)
	assert.Equal(t, TATMinutes(t0, &vetted, t0.Add(48*time.Hour)), 90)
	assert.Equal(t, TATMinutes(t0, nil, t0.Add(3*time.Hour)), 180)
	assert.Equal(t, TATMinutes(t0, nil, t0.Add(-time.Hour)), 0)
	assert.Equal(t, TATMinutes(time.Time{}, nil, t0), 0)
}

func TestSLABreached(t *testing.T) {
	tests := []struct {
		status Status
		tat    int
		sla    int
		want   bool
	}{
		{StatusPending, 48*60 + 1, 48, true},
		{StatusPending, 48 * 60, 48, false},
		{StatusReopened, 25 * 60, 24, true},
		{StatusVetted, 1000 * 60, 24, false},
		{StatusRejected, 1000 * 60, 24, false},
		{StatusPending, 49 * 60, 0, true},
	}
	for _, tt := range tests {
		if got := SLABreached(tt.status, tt.tat, tt.sla); got != tt.want {
			t.Errorf("SLABreached(%s, %d, %d) = %v, want %v", tt.status, tt.tat, tt.sla, got, tt.want)
		}
	}
}

func TestNewID(t *testing.T) {
	pattern := regexp.MustCompile(`^20260302-[A-Z0-9]{4}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewID(t0.Add(23 * time.Hour).In(time.FixedZone("UTC+2", 2*3600)))
		if !pattern.MatchString(id) {
			t.Fatalf("unexpected id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Error("expected random suffixes")
	}
}

func TestParseFilter(t *testing.T) {
	inst := uuid.New()
	q := url.Values{
		"tab":            {"Pending"},
		"institution_id": {inst.String()},
		"q":              {"  smith "},
		"from":           {"2026-03-01"},
		"to":             {"2026-03-02"},
		"sort":           {"tat"},
		"dir":            {"asc"},
	}
	tab, f, err := ParseFilter(q)
	assert.NilError(t, err)
	assert.Equal(t, tab, "pending")
	assert.Assert(t, f.Status != nil && *f.Status == StatusPending)
	assert.Assert(t, f.InstitutionID != nil && *f.InstitutionID == inst)
	assert.Equal(t, f.Query, "smith")
	assert.Assert(t, f.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Assert(t, f.To.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, f.Sort, "tat")
	assert.Assert(t, !f.Desc)

	tab, f, err = ParseFilter(url.Values{"status": {"vetted"}, "sort": {"password; DROP"}})
	assert.NilError(t, err)
	assert.Equal(t, tab, "vetted")
	assert.Equal(t, f.Sort, "created_at")
	assert.Assert(t, f.Desc)

	tab, f, err = ParseFilter(url.Values{"tab": {"archived"}})
	assert.NilError(t, err)
	assert.Equal(t, tab, "all")
	assert.Assert(t, f.Status == nil)

	for _, bad := range []url.Values{
		{"radiologist_id": {"nope"}},
		{"from": {"01/03/2026"}},
	} {
		_, _, err := ParseFilter(bad)
		assert.Assert(t, errors.Is(err, apperr.ErrValidation), "query %v: got %v", bad, err)
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Assert(t, is.Equal(escapeLike(`50%_a\b`), `50\%\_a\\b`))
	assert.Assert(t, !strings.Contains(escapeLike("plain"), `\`))
}
