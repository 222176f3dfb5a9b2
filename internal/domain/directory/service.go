package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/consult/internal/platform/apperr"
	"github.com/ehr/consult/pkg/pagination"
)

const DefaultNearbyLimit = 10

// Service answers doctor discovery queries and maintains clinical profiles.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "directory").Logger()}
}

// ListResult is one page of doctors with the available filter values.
type ListResult struct {
	Doctors    []View          `json:"doctors"`
	Filters    Facets          `json:"filters"`
	Pagination pagination.Page `json:"pagination"`
}

// normalizeFilter treats the literal "all" as no filter.
func normalizeFilter(f Filter) Filter {
	clean := func(v string) string {
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, "all") {
			return ""
		}
		return v
	}
	return Filter{
		Location:       clean(f.Location),
		Specialization: clean(f.Specialization),
		Search:         strings.TrimSpace(f.Search),
	}
}

func (s *Service) ListDoctors(ctx context.Context, f Filter, page pagination.Params) (*ListResult, error) {
	f = normalizeFilter(f)
	doctors, total, err := s.repo.List(ctx, f, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	facets, err := s.repo.Facets(ctx)
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Doctors:    Views(doctors),
		Filters:    facets,
		Pagination: page.Page(total),
	}, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.listed(s.repo.GetByID(ctx, id))
}

func (s *Service) GetDoctorByProviderID(ctx context.Context, providerID string) (*Doctor, error) {
	return s.listed(s.repo.GetByProviderID(ctx, providerID))
}

func (s *Service) listed(d *Doctor, err error) (*Doctor, error) {
	if errors.Is(err, ErrNotFound) || (err == nil && !d.Listed()) {
		return nil, apperr.NotFound("doctor_not_found", "doctor not found")
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Nearby ranks all listed doctors by location, best rated first within each
// group.
func (s *Service) Nearby(ctx context.Context, location string, limit int) ([]*Doctor, error) {
	if strings.TrimSpace(location) == "" {
		return nil, apperr.Validation("missing_location", "location is required")
	}
	if limit <= 0 {
		limit = DefaultNearbyLimit
	}
	if limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}
	all, err := s.repo.Listed(ctx)
	if err != nil {
		return nil, err
	}
	ranked := RankByLocation(all, location, ByRating)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// BookableDoctor resolves a doctor reference for a new consultation request.
func (s *Service) BookableDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetBookable(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("doctor_unavailable", "doctor does not exist or is not accepting requests")
	}
	return d, err
}

// RecordConsultation bumps the doctor's consultation counter.
func (s *Service) RecordConsultation(ctx context.Context, id uuid.UUID) error {
	return s.repo.IncrementConsultations(ctx, id)
}

func validateProfile(p *Profile) error {
	p.Specialization = strings.TrimSpace(p.Specialization)
	if p.Specialization == "" {
		return apperr.Validation("missing_specialization", "specialization is required")
	}
	if p.ExperienceYears < 0 {
		return apperr.Validation("invalid_experience", "experience_years must not be negative")
	}
	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		return apperr.Validation("invalid_rating", "rating must be between 0 and 5")
	}
	if p.ConsultationFee != nil && *p.ConsultationFee < 0 {
		return apperr.Validation("invalid_fee", "consultation_fee must not be negative")
	}
	for _, sl := range p.AvailableSlots {
		if sl.Day == "" || sl.StartTime == "" || sl.EndTime == "" {
			return apperr.Validation("invalid_slot", "each slot needs day, start_time and end_time")
		}
	}
	if p.AvailableSlots == nil {
		p.AvailableSlots = []Slot{}
	}
	if len(p.Languages) == 0 {
		p.Languages = []string{"English"}
	}
	return nil
}

// UpsertProfile writes the clinical profile of a doctor identity and marks
// it verified.
func (s *Service) UpsertProfile(ctx context.Context, providerID string, p Profile) (*Doctor, error) {
	if err := validateProfile(&p); err != nil {
		return nil, err
	}
	d, err := s.repo.UpsertProfile(ctx, providerID, p)
	if errors.Is(err, ErrNotDoctor) {
		return nil, apperr.NotFound("doctor_identity_not_found", "no active identity with the doctor role")
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("provider_id", providerID).Msg("doctor profile updated")
	return d, nil
}
