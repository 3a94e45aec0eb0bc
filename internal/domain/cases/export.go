package cases

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"

	"github.com/pmendyk-crypto/vetting-app/internal/domain/directory"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/reporting"
)

// The Service is the export source of the reporting handler.
var _ reporting.Source = (*Service)(nil)

// ExportRows returns every case matching the list filters in query, newest
// first unless query sorts otherwise.
func (s *Service) ExportRows(ctx context.Context, ac *auth.AccessContext, query url.Values) (string, []reporting.Row, error) {
	if err := auth.Authorize(ac, auth.OpCaseExport); err != nil {
		return "", nil, err
	}
	tab, f, err := ParseFilter(query)
	if err != nil {
		return "", nil, err
	}
	list, _, err := s.repo.List(ctx, ac.OrgID, scope(ac, f), 0, 0)
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	rows := make([]reporting.Row, 0, len(list))
	for _, c := range list {
		c.annotate(now)
		rows = append(rows, reporting.Row{
			ID:             c.ID,
			Status:         string(c.Status),
			Created:        c.CreatedAt,
			PatientFirst:   c.PatientFirstName,
			PatientSurname: c.PatientSurname,
			ReferralID:     c.PatientReferralID,
			Institution:    c.InstitutionName,
			Study:          c.StudyDescription,
			Radiologist:    c.RadiologistName,
			TATMinutes:     c.TATMinutes,
			VettedAt:       c.VettedAt,
		})
	}
	s.logger.Info().Str("org_id", ac.OrgID.String()).Str("tab", tab).Int("rows", len(rows)).Msg("csv export")
	return tab, rows, nil
}

// CaseReport builds the decision report of one case.
func (s *Service) CaseReport(ctx context.Context, ac *auth.AccessContext, caseID string) (*reporting.CaseReport, error) {
	if err := auth.Authorize(ac, auth.OpCaseReport); err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, ac.OrgID, caseID)
	if err != nil {
		return nil, err
	}
	if err := checkAssignee(ac, c); err != nil {
		return nil, err
	}
	b, err := s.newReportBuilder(ctx, ac.OrgID)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, c), nil
}

// CaseReports builds the reports of every case matching query. A missing
// radiologist profile degrades that report instead of failing the batch.
func (s *Service) CaseReports(ctx context.Context, ac *auth.AccessContext, query url.Values) (string, []*reporting.CaseReport, error) {
	if err := auth.Authorize(ac, auth.OpCaseExport); err != nil {
		return "", nil, err
	}
	tab, f, err := ParseFilter(query)
	if err != nil {
		return "", nil, err
	}
	list, _, err := s.repo.List(ctx, ac.OrgID, scope(ac, f), 0, 0)
	if err != nil {
		return "", nil, err
	}
	b, err := s.newReportBuilder(ctx, ac.OrgID)
	if err != nil {
		return "", nil, err
	}
	reports := make([]*reporting.CaseReport, 0, len(list))
	for _, c := range list {
		reports = append(reports, b.build(ctx, c))
	}
	return tab, reports, nil
}

// reportBuilder resolves the organisation once and each radiologist
// profile at most once per export.
type reportBuilder struct {
	s        *Service
	orgName  string
	profiles map[uuid.UUID]*directory.RadiologistProfile
}

func (s *Service) newReportBuilder(ctx context.Context, orgID uuid.UUID) (*reportBuilder, error) {
	org, err := s.dir.Organisation(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &reportBuilder{s: s, orgName: org.Name, profiles: make(map[uuid.UUID]*directory.RadiologistProfile)}, nil
}

func (b *reportBuilder) profile(ctx context.Context, userID uuid.UUID) *directory.RadiologistProfile {
	if p, ok := b.profiles[userID]; ok {
		return p
	}
	p, err := b.s.dir.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			b.s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("load radiologist profile")
		}
		p = nil
	}
	b.profiles[userID] = p
	return p
}

func (b *reportBuilder) build(ctx context.Context, c *Case) *reporting.CaseReport {
	r := &reporting.CaseReport{
		OrganisationName: b.orgName,
		CaseID:           c.ID,
		Created:          c.CreatedAt,
		PatientFirst:     c.PatientFirstName,
		PatientSurname:   c.PatientSurname,
		ReferralID:       c.PatientReferralID,
		Institution:      c.InstitutionName,
		Radiologist:      c.RadiologistName,
		StudyDescription: c.StudyDescription,
		Protocol:         c.Protocol,
		Comment:          c.DecisionComment,
		VettedAt:         c.VettedAt,
	}
	if c.Decision != nil {
		r.Decision = string(*c.Decision)
	}
	if c.RadiologistID != nil {
		if p := b.profile(ctx, *c.RadiologistID); p != nil {
			r.ProfileAvailable = true
			if p.DisplayName != "" {
				r.Radiologist = p.DisplayName
			}
			r.Credential = p.GMC
		}
	}
	return r
}
