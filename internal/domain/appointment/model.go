package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/consult/internal/domain/triage"
	"github.com/ehr/consult/internal/platform/auth"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var Statuses = []Status{StatusPending, StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

type Action string

const (
	ActionAccept        Action = "accept"
	ActionReject        Action = "reject"
	ActionCancel        Action = "cancel"
	ActionMarkCompleted Action = "mark_completed"
)

var actionAliases = map[string]Action{
	"accept":         ActionAccept,
	"accepted":       ActionAccept,
	"reject":         ActionReject,
	"rejected":       ActionReject,
	"cancel":         ActionCancel,
	"cancelled":      ActionCancel,
	"mark_completed": ActionMarkCompleted,
	"mark-completed": ActionMarkCompleted,
	"completed":      ActionMarkCompleted,
}

// ParseAction accepts the canonical action names and the status-style
// spellings older clients send.
func ParseAction(s string) (Action, bool) {
	a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

type transition struct {
	to    Status
	actor auth.Role
}

// transitions is the complete state machine. Pairs not listed are rejected.
var transitions = map[Status]map[Action]transition{
	StatusPending: {
		ActionAccept: {to: StatusAccepted, actor: auth.RoleDoctor},
		ActionReject: {to: StatusRejected, actor: auth.RoleDoctor},
		ActionCancel: {to: StatusCancelled, actor: auth.RolePatient},
	},
	StatusAccepted: {
		ActionMarkCompleted: {to: StatusCompleted, actor: auth.RolePatient},
	},
}

// Next returns the target status and the party allowed to perform action
// from status.
func Next(from Status, a Action) (to Status, actor auth.Role, ok bool) {
	t, ok := transitions[from][a]
	return t.to, t.actor, ok
}

type Mode string

const (
	ModeOnline   Mode = "online"
	ModeInPerson Mode = "in-person"
)

func (m Mode) Valid() bool { return m == ModeOnline || m == ModeInPerson }

const DefaultPatientLocation = "Location not provided"

// Request is a consultation request. The patient and AI snapshots are fixed
// at creation; only status, doctor notes, appointment date and rejection
// reason change afterwards.
type Request struct {
	ID                uuid.UUID `db:"id" json:"id"`
	PatientID         uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientProviderID string    `db:"patient_provider_id" json:"patient_provider_id"`
	DoctorID          uuid.UUID `db:"doctor_id" json:"doctor_id"`
	DoctorProviderID  string    `db:"doctor_provider_id" json:"doctor_provider_id"`

	PatientName     string `db:"patient_name" json:"patient_name"`
	PatientAge      int    `db:"patient_age" json:"patient_age"`
	PatientContact  string `db:"patient_contact" json:"patient_contact"`
	PatientLocation string `db:"patient_location" json:"patient_location"`
	Mode            Mode   `db:"consultation_mode" json:"consultation_mode"`
	PreferredDate   string `db:"preferred_date" json:"preferred_date,omitempty"`
	Symptoms        string `db:"symptoms" json:"symptoms,omitempty"`

	AI triage.AIResult `json:"ai_result"`

	Status          Status         `db:"status" json:"status"`
	Urgency         triage.Urgency `db:"urgency" json:"urgency"`
	DoctorNotes     string         `db:"doctor_notes" json:"doctor_notes,omitempty"`
	AppointmentDate *time.Time     `db:"appointment_date" json:"appointment_date,omitempty"`
	RejectionReason string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// CreateInput is what a patient submits.
type CreateInput struct {
	DoctorID        uuid.UUID       `json:"doctor_id"`
	PatientName     string          `json:"patient_name"`
	PatientAge      *int            `json:"patient_age"`
	PatientContact  string          `json:"patient_contact"`
	PatientLocation string          `json:"patient_location"`
	Mode            Mode            `json:"consultation_mode"`
	PreferredDate   string          `json:"preferred_date"`
	Symptoms        string          `json:"symptoms"`
	AI              triage.AIResult `json:"ai_result"`
}

// TransitionInput is a status change request.
type TransitionInput struct {
	Action          string     `json:"action"`
	DoctorNotes     string     `json:"doctor_notes"`
	AppointmentDate *time.Time `json:"appointment_date"`
	RejectionReason string     `json:"rejection_reason"`
}

// Counts is the number of a patient's requests per status.
type Counts struct {
	Pending   int `json:"pending"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

func (c *Counts) Add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusAccepted:
		c.Accepted += n
	case StatusRejected:
		c.Rejected += n
	case StatusCompleted:
		c.Completed += n
	case StatusCancelled:
		c.Cancelled += n
	}
	c.Total += n
}
