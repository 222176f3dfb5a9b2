package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/consult/internal/domain/directory"
	"github.com/ehr/consult/internal/domain/triage"
	"github.com/ehr/consult/internal/platform/apperr"
	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/internal/platform/metrics"
	"github.com/ehr/consult/internal/platform/notify"
	"github.com/ehr/consult/pkg/pagination"
)

// Doctors resolves doctor references and records completed consultations.
type Doctors interface {
	BookableDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	RecordConsultation(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo      Repository
	doctors   Doctors
	publisher notify.Publisher
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

func NewService(repo Repository, doctors Doctors, publisher notify.Publisher, m *metrics.Collector, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		repo:      repo,
		doctors:   doctors,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("component", "appointment").Logger(),
	}
}

func validateCreate(in *CreateInput) error {
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.PatientContact = strings.TrimSpace(in.PatientContact)
	in.PatientLocation = strings.TrimSpace(in.PatientLocation)
	if in.DoctorID == uuid.Nil {
		return apperr.Validation("missing_doctor", "doctor_id is required")
	}
	if in.PatientName == "" {
		return apperr.Validation("missing_patient_name", "patient_name is required")
	}
	if in.PatientContact == "" {
		return apperr.Validation("missing_patient_contact", "patient_contact is required")
	}
	if in.PatientAge == nil || *in.PatientAge < 0 || *in.PatientAge > 120 {
		return apperr.Validation("invalid_patient_age", "patient_age must be between 0 and 120")
	}
	if !in.Mode.Valid() {
		return apperr.Validation("invalid_consultation_mode", "consultation_mode must be online or in-person")
	}
	if in.PatientLocation == "" {
		in.PatientLocation = DefaultPatientLocation
	}
	return triage.Validate(in.AI)
}

// Create files a new pending request on behalf of the calling patient.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Request, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Forbidden("patient_only", "only patients can request consultations")
	}
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	doc, err := s.doctors.BookableDoctor(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}

	req := &Request{
		PatientID:         actor.IdentityID,
		PatientProviderID: actor.ProviderID,
		DoctorID:          doc.ID,
		DoctorProviderID:  doc.ProviderID,
		PatientName:       in.PatientName,
		PatientAge:        *in.PatientAge,
		PatientContact:    in.PatientContact,
		PatientLocation:   in.PatientLocation,
		Mode:              in.Mode,
		PreferredDate:     strings.TrimSpace(in.PreferredDate),
		Symptoms:          strings.TrimSpace(in.Symptoms),
		AI:                in.AI,
		Status:            StatusPending,
		Urgency:           triage.Classify(in.AI),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.metrics.AppointmentCreated(string(req.Urgency))
	s.logger.Info().
		Str("request_id", req.ID.String()).
		Str("doctor_provider_id", req.DoctorProviderID).
		Str("urgency", string(req.Urgency)).
		Msg("consultation request created")
	s.notify(ctx, notify.DoctorTopic(req.DoctorProviderID), "appointment.created", req, "")
	return req, nil
}

func isDoctorOwner(a auth.Actor, r *Request) bool {
	return a.Role == auth.RoleDoctor && a.ProviderID == r.DoctorProviderID
}

func isPatientOwner(a auth.Actor, r *Request) bool {
	return a.Role == auth.RolePatient && a.ProviderID == r.PatientProviderID
}

// Transition applies an action under a row lock. Guards are evaluated
// against the locked row, so of two concurrent attempts the second sees the
// first one's status.
func (s *Service) Transition(ctx context.Context, actor auth.Actor, id uuid.UUID, in TransitionInput) (*Request, error) {
	action, known := ParseAction(in.Action)
	label := string(action)
	if !known {
		label = "unknown"
	}

	updated, err := s.repo.Transition(ctx, id, func(r *Request) error {
		if !isDoctorOwner(actor, r) && !isPatientOwner(actor, r) {
			return apperr.Forbidden("not_owner", "request belongs to another user")
		}
		if !known {
			return apperr.Conflict("unknown_action", "unknown action "+in.Action, string(r.Status))
		}
		to, party, ok := Next(r.Status, action)
		if !ok {
			return apperr.Conflict("invalid_transition",
				"cannot "+string(action)+" a request that is "+string(r.Status), string(r.Status))
		}
		if actor.Role != party {
			return apperr.Forbidden("not_owner", "only the "+string(party)+" on this request may "+string(action)+" it")
		}

		switch action {
		case ActionAccept:
			r.DoctorNotes = strings.TrimSpace(in.DoctorNotes)
			if in.AppointmentDate != nil {
				d := in.AppointmentDate.UTC()
				r.AppointmentDate = &d
			}
		case ActionReject:
			reason := strings.TrimSpace(in.RejectionReason)
			if reason == "" {
				return apperr.Validation("missing_rejection_reason", "rejection_reason is required")
			}
			r.RejectionReason = reason
			if notes := strings.TrimSpace(in.DoctorNotes); notes != "" {
				r.DoctorNotes = notes
			}
		}
		r.Status = to
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		err = apperr.NotFound("request_not_found", "appointment request not found")
	}
	if err != nil {
		result := "error"
		if ae, ok := apperr.As(err); ok {
			result = string(ae.Kind)
		}
		s.metrics.AppointmentTransition(label, result)
		return nil, err
	}

	s.metrics.AppointmentTransition(label, "ok")
	s.logger.Info().
		Str("request_id", id.String()).
		Str("action", label).
		Str("status", string(updated.Status)).
		Str("provider_id", actor.ProviderID).
		Msg("consultation request transitioned")

	if updated.Status == StatusCompleted {
		if err := s.doctors.RecordConsultation(ctx, updated.DoctorID); err != nil {
			s.logger.Warn().Err(err).Str("doctor_id", updated.DoctorID.String()).Msg("consultation counter not updated")
		}
	}

	topic := notify.PatientTopic(updated.PatientProviderID)
	if actor.Role == auth.RolePatient {
		topic = notify.DoctorTopic(updated.DoctorProviderID)
	}
	s.notify(ctx, topic, "appointment."+string(updated.Status), updated, label)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Request, error) {
	r, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("request_not_found", "appointment request not found")
	}
	if err != nil {
		return nil, err
	}
	if !isDoctorOwner(actor, r) && !isPatientOwner(actor, r) {
		return nil, apperr.Forbidden("not_owner", "request belongs to another user")
	}
	return r, nil
}

// DoctorView is the doctor's inbox page.
type DoctorView struct {
	Requests   []*Request      `json:"requests"`
	Pagination pagination.Page `json:"pagination"`
}

// PatientView is the patient's history page with per-status counts.
type PatientView struct {
	Requests   []*Request      `json:"requests"`
	Counts     Counts          `json:"counts"`
	Pagination pagination.Page `json:"pagination"`
}

func (s *Service) ListForDoctor(ctx context.Context, actor auth.Actor, status string, page pagination.Params) (*DoctorView, error) {
	if actor.Role != auth.RoleDoctor {
		return nil, apperr.Forbidden("doctor_only", "only doctors have a request inbox")
	}
	var filter *Status
	if status = strings.ToLower(strings.TrimSpace(status)); status != "" && status != "all" {
		st := Status(status)
		if !st.Valid() {
			return nil, apperr.Validation("invalid_status", "unknown status "+status)
		}
		filter = &st
	}
	items, total, err := s.repo.ListByDoctor(ctx, actor.ProviderID, filter, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Request{}
	}
	return &DoctorView{Requests: items, Pagination: page.Page(total)}, nil
}

func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, page pagination.Params) (*PatientView, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Forbidden("patient_only", "only patients have a request history")
	}
	items, total, err := s.repo.ListByPatient(ctx, actor.IdentityID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByPatient(ctx, actor.IdentityID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Request{}
	}
	return &PatientView{Requests: items, Counts: counts, Pagination: page.Page(total)}, nil
}

type eventData struct {
	Status  Status         `json:"status"`
	Urgency triage.Urgency `json:"urgency"`
	Action  string         `json:"action,omitempty"`
}

// notify is best effort: failures are logged and never returned.
func (s *Service) notify(ctx context.Context, topic, typ string, r *Request, action string) {
	data, err := json.Marshal(eventData{Status: r.Status, Urgency: r.Urgency, Action: action})
	if err != nil {
		s.logger.Warn().Err(err).Msg("encode notification")
		return
	}
	err = s.publisher.Publish(ctx, notify.Event{
		Type:         typ,
		Topic:        topic,
		ResourceType: "appointment_request",
		ResourceID:   r.ID.String(),
		Timestamp:    time.Now().UTC(),
		Data:         data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("notification not delivered")
	}
}
