package reference

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
)

type Service struct {
	insts      InstitutionRepository
	protos     ProtocolRepository
	tx         Transactor
	defaultSLA int
	logger     zerolog.Logger
}

// NewService builds the reference data service. defaultSLA is applied to
// institutions created without sla_hours.
func NewService(insts InstitutionRepository, protos ProtocolRepository, tx Transactor, defaultSLA int, logger zerolog.Logger) *Service {
	if defaultSLA < MinSLAHours || defaultSLA > MaxSLAHours {
		defaultSLA = 48
	}
	return &Service{
		insts:      insts,
		protos:     protos,
		tx:         tx,
		defaultSLA: defaultSLA,
		logger:     logger.With().Str("component", "reference").Logger(),
	}
}

func validateSLA(h int) error {
	if h < MinSLAHours || h > MaxSLAHours {
		return apperr.Validation("sla_hours must be between %d and %d", MinSLAHours, MaxSLAHours)
	}
	return nil
}

// -- Institutions --

type InstitutionInput struct {
	Name     string `json:"name"`
	SLAHours *int   `json:"sla_hours"`
}

func (s *Service) ListInstitutions(ctx context.Context, ac *auth.AccessContext) ([]*Institution, error) {
	if err := auth.Authorize(ac, auth.OpReferenceRead); err != nil {
		return nil, err
	}
	return s.insts.List(ctx, ac.OrgID)
}

func (s *Service) GetInstitution(ctx context.Context, ac *auth.AccessContext, id uuid.UUID) (*Institution, error) {
	if err := auth.Authorize(ac, auth.OpReferenceRead); err != nil {
		return nil, err
	}
	return s.insts.GetByID(ctx, ac.OrgID, id)
}

func (s *Service) CreateInstitution(ctx context.Context, ac *auth.AccessContext, in InstitutionInput) (*Institution, error) {
	if err := auth.Authorize(ac, auth.OpReferenceWrite); err != nil {
		return nil, err
	}
	inst := &Institution{OrgID: ac.OrgID, Name: strings.TrimSpace(in.Name), SLAHours: s.defaultSLA}
	if inst.Name == "" {
		return nil, apperr.Validation("institution name is required")
	}
	if in.SLAHours != nil {
		if err := validateSLA(*in.SLAHours); err != nil {
			return nil, err
		}
		inst.SLAHours = *in.SLAHours
	}
	if err := s.insts.Create(ctx, inst); err != nil {
		return nil, err
	}
	s.logger.Info().Str("org_id", ac.OrgID.String()).Str("institution_id", inst.ID.String()).Msg("institution created")
	return inst, nil
}

type InstitutionPatch struct {
	Name     *string `json:"name"`
	SLAHours *int    `json:"sla_hours"`
}

func (s *Service) UpdateInstitution(ctx context.Context, ac *auth.AccessContext, id uuid.UUID, patch InstitutionPatch) (*Institution, error) {
	if err := auth.Authorize(ac, auth.OpReferenceWrite); err != nil {
		return nil, err
	}
	if patch.Name == nil && patch.SLAHours == nil {
		return nil, apperr.Validation("nothing to update")
	}
	var inst *Institution
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if inst, err = s.insts.GetByID(ctx, ac.OrgID, id); err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return apperr.Validation("institution name is required")
			}
			inst.Name = name
		}
		if patch.SLAHours != nil {
			if err := validateSLA(*patch.SLAHours); err != nil {
				return err
			}
			inst.SLAHours = *patch.SLAHours
		}
		return s.insts.Update(ctx, inst)
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// DeleteInstitution removes an institution of the caller's organisation. It
// is refused with a conflict while any case or protocol still refers to it.
func (s *Service) DeleteInstitution(ctx context.Context, ac *auth.AccessContext, id uuid.UUID) error {
	if err := auth.Authorize(ac, auth.OpReferenceWrite); err != nil {
		return err
	}
	if err := s.insts.Delete(ctx, ac.OrgID, id); err != nil {
		return err
	}
	s.logger.Info().Str("org_id", ac.OrgID.String()).Str("institution_id", id.String()).Msg("institution deleted")
	return nil
}

// Institution returns an institution of orgID for other domains.
func (s *Service) Institution(ctx context.Context, orgID, id uuid.UUID) (*Institution, error) {
	return s.insts.GetByID(ctx, orgID, id)
}

// -- Protocols --

func (s *Service) ListProtocols(ctx context.Context, ac *auth.AccessContext, f ProtocolFilter) ([]*Protocol, error) {
	if err := auth.Authorize(ac, auth.OpReferenceRead); err != nil {
		return nil, err
	}
	return s.protos.List(ctx, ac.OrgID, f)
}

type ProtocolInput struct {
	Name          string     `json:"name"`
	InstitutionID *uuid.UUID `json:"institution_id"`
	Instructions  string     `json:"instructions"`
}

func (s *Service) CreateProtocol(ctx context.Context, ac *auth.AccessContext, in ProtocolInput) (*Protocol, error) {
	if err := auth.Authorize(ac, auth.OpReferenceWrite); err != nil {
		return nil, err
	}
	p := &Protocol{
		OrgID:         ac.OrgID,
		Name:          strings.TrimSpace(in.Name),
		InstitutionID: in.InstitutionID,
		Instructions:  strings.TrimSpace(in.Instructions),
		IsActive:      true,
	}
	if p.Name == "" {
		return nil, apperr.Validation("protocol name is required")
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkInstitution(ctx, ac.OrgID, p.InstitutionID); err != nil {
			return err
		}
		return s.protos.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProtocolPatch changes a protocol. ClearInstitution makes the protocol
// available to every institution and wins over InstitutionID.
type ProtocolPatch struct {
	Name             *string    `json:"name"`
	InstitutionID    *uuid.UUID `json:"institution_id"`
	ClearInstitution bool       `json:"clear_institution"`
	Instructions     *string    `json:"instructions"`
	IsActive         *bool      `json:"is_active"`
}

func (s *Service) UpdateProtocol(ctx context.Context, ac *auth.AccessContext, id uuid.UUID, patch ProtocolPatch) (*Protocol, error) {
	if err := auth.Authorize(ac, auth.OpReferenceWrite); err != nil {
		return nil, err
	}
	var p *Protocol
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.protos.GetByID(ctx, ac.OrgID, id); err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return apperr.Validation("protocol name is required")
			}
			p.Name = name
		}
		switch {
		case patch.ClearInstitution:
			p.InstitutionID = nil
		case patch.InstitutionID != nil:
			if err := s.checkInstitution(ctx, ac.OrgID, patch.InstitutionID); err != nil {
				return err
			}
			p.InstitutionID = patch.InstitutionID
		}
		if patch.Instructions != nil {
			p.Instructions = strings.TrimSpace(*patch.Instructions)
		}
		if patch.IsActive != nil {
			p.IsActive = *patch.IsActive
		}
		return s.protos.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProtocol removes a protocol. Cases keep the protocol text they were
// vetted with, so nothing else refers to the row.
func (s *Service) DeleteProtocol(ctx context.Context, ac *auth.AccessContext, id uuid.UUID) error {
	if err := auth.Authorize(ac, auth.OpReferenceWrite); err != nil {
		return err
	}
	if err := s.protos.Delete(ctx, ac.OrgID, id); err != nil {
		return err
	}
	s.logger.Info().Str("org_id", ac.OrgID.String()).Str("protocol_id", id.String()).Msg("protocol deleted")
	return nil
}

// checkInstitution rejects an institution id that is not in orgID.
func (s *Service) checkInstitution(ctx context.Context, orgID uuid.UUID, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := s.insts.GetByID(ctx, orgID, *id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Validation("unknown institution")
		}
		return err
	}
	return nil
}

// -- Seeding --

// SeedResult counts the rows SeedDefaults inserted.
type SeedResult struct {
	Institutions int `json:"institutions"`
	Protocols    int `json:"protocols"`
}

// SeedDefaults inserts the default institutions and organisation-wide
// protocols for orgID. Rows that already exist are left alone, so running
// it twice is harmless.
func (s *Service) SeedDefaults(ctx context.Context, orgID uuid.UUID) (SeedResult, error) {
	var res SeedResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, d := range defaultInstitutions {
			_, err := s.insts.GetByName(ctx, orgID, d.name)
			if err == nil {
				continue
			}
			if !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			if err := s.insts.Create(ctx, &Institution{OrgID: orgID, Name: d.name, SLAHours: d.slaHours}); err != nil {
				return err
			}
			res.Institutions++
		}

		existing, err := s.protos.List(ctx, orgID, ProtocolFilter{})
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, p := range existing {
			if p.InstitutionID == nil {
				have[p.Name] = true
			}
		}
		for _, name := range defaultProtocols {
			if have[name] {
				continue
			}
			if err := s.protos.Create(ctx, &Protocol{OrgID: orgID, Name: name, IsActive: true}); err != nil {
				return err
			}
			res.Protocols++
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	s.logger.Info().Str("org_id", orgID.String()).
		Int("institutions", res.Institutions).Int("protocols", res.Protocols).Msg("reference data seeded")
	return res, nil
}
