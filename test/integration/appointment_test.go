package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/consult/internal/domain/appointment"
	"github.com/ehr/consult/internal/domain/directory"
	"github.com/ehr/consult/internal/domain/triage"
	"github.com/ehr/consult/internal/platform/apperr"
	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/internal/platform/notify"
	"github.com/ehr/consult/pkg/pagination"
)

type appointmentFixture struct {
	svc     *appointment.Service
	doctor  auth.Actor
	patient auth.Actor
	input   appointment.CreateInput
}

func newAppointmentFixture(t *testing.T, ctx context.Context) *appointmentFixture {
	t.Helper()
	d := createTestDoctor(t, ctx, "Chennai", 4.4)
	doctorIdentity := createTestIdentity(t, ctx, d.ProviderID, auth.RoleDoctor)
	patientPID := uniqueProviderID("pat")
	patientIdentity := createTestIdentity(t, ctx, patientPID, auth.RolePatient)

	dirSvc := directory.NewService(directory.NewRepoPG(globalPool), zerolog.Nop())
	svc := appointment.NewService(appointment.NewRepoPG(globalPool), dirSvc, notify.Nop{}, nil, zerolog.Nop())

	return &appointmentFixture{
		svc:     svc,
		doctor:  auth.Actor{ProviderID: d.ProviderID, IdentityID: doctorIdentity.ID, Role: auth.RoleDoctor},
		patient: auth.Actor{ProviderID: patientPID, IdentityID: patientIdentity.ID, Role: auth.RolePatient},
		input: appointment.CreateInput{
			DoctorID:       d.ID,
			PatientName:    "Ravi Kumar",
			PatientAge:     ptrInt(42),
			PatientContact: "+91 98765 43210",
			Mode:           appointment.ModeOnline,
			Symptoms:       "chest pain",
			AI: triage.AIResult{
				RiskLevel:  triage.RiskMedium,
				Confidence: 92.5,
				Summary:    "possible angina",
			},
		},
	}
}

func TestAppointment_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newAppointmentFixture(t, ctx)

	req, err := f.svc.Create(ctx, f.patient, f.input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.Status != appointment.StatusPending || req.Urgency != triage.UrgencyHigh {
		t.Fatalf("unexpected new request status=%s urgency=%s", req.Status, req.Urgency)
	}
	if req.PatientLocation != appointment.DefaultPatientLocation {
		t.Errorf("expected default location, got %q", req.PatientLocation)
	}

	accepted, err := f.svc.Transition(ctx, f.doctor, req.ID, appointment.TransitionInput{Action: "accept", DoctorNotes: "bring ECG"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != appointment.StatusAccepted || accepted.DoctorNotes != "bring ECG" {
		t.Fatalf("unexpected accepted request %+v", accepted)
	}

	if _, err := f.svc.Transition(ctx, f.doctor, req.ID, appointment.TransitionInput{Action: "mark_completed"}); !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("doctor completing should be forbidden, got %v", err)
	}
	completed, err := f.svc.Transition(ctx, f.patient, req.ID, appointment.TransitionInput{Action: "mark_completed"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != appointment.StatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	d, err := directory.NewRepoPG(globalPool).GetByID(ctx, f.input.DoctorID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if d.TotalConsultations != 1 {
		t.Errorf("expected consultation recorded, got %d", d.TotalConsultations)
	}

	view, err := f.svc.ListForPatient(ctx, f.patient, pagination.Params{Limit: 10})
	if err != nil {
		t.Fatalf("ListForPatient: %v", err)
	}
	if view.Counts.Completed != 1 || view.Counts.Total != 1 {
		t.Errorf("unexpected counts %+v", view.Counts)
	}
}

func TestAppointment_ConcurrentTransitionsSerialize(t *testing.T) {
	ctx := context.Background()
	f := newAppointmentFixture(t, ctx)

	req, err := f.svc.Create(ctx, f.patient, f.input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = f.svc.Transition(ctx, f.doctor, req.ID, appointment.TransitionInput{Action: "accept"})
	}()
	go func() {
		defer wg.Done()
		_, results[1] = f.svc.Transition(ctx, f.patient, req.ID, appointment.TransitionInput{Action: "cancel"})
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !apperr.Is(err, apperr.KindConflict) {
			t.Errorf("expected conflict for the losing transition, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one transition to win, got %d", succeeded)
	}

	final, err := f.svc.Get(ctx, f.patient, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != appointment.StatusAccepted && final.Status != appointment.StatusCancelled {
		t.Errorf("unexpected final status %s", final.Status)
	}
}

func TestAppointment_DoctorListFilters(t *testing.T) {
	ctx := context.Background()
	f := newAppointmentFixture(t, ctx)

	first, err := f.svc.Create(ctx, f.patient, f.input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.patient, f.input); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Transition(ctx, f.doctor, first.ID, appointment.TransitionInput{Action: "reject", RejectionReason: "out of scope"}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	all, err := f.svc.ListForDoctor(ctx, f.doctor, "all", pagination.Params{Limit: 10})
	if err != nil {
		t.Fatalf("ListForDoctor: %v", err)
	}
	if all.Pagination.Total != 2 {
		t.Errorf("expected 2 requests, got %d", all.Pagination.Total)
	}

	pending, err := f.svc.ListForDoctor(ctx, f.doctor, "pending", pagination.Params{Limit: 10})
	if err != nil {
		t.Fatalf("ListForDoctor pending: %v", err)
	}
	if pending.Pagination.Total != 1 {
		t.Errorf("expected 1 pending request, got %d", pending.Pagination.Total)
	}

	if _, err := f.svc.ListForDoctor(ctx, f.doctor, "bogus", pagination.Params{Limit: 10}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}
