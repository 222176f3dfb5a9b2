package directory

import (
	"time"

	"github.com/google/uuid"
)

// Slot is one weekly availability window.
type Slot struct {
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Doctor is a doctor profile. Contact fields are kept in step with the
// identity provider; clinical fields are written by administrators.
type Doctor struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	ProviderID         string     `db:"provider_id" json:"provider_id"`
	FirstName          string     `db:"first_name" json:"first_name"`
	LastName           string     `db:"last_name" json:"last_name"`
	Email              string     `db:"email" json:"email"`
	Phone              string     `db:"phone" json:"phone,omitempty"`
	Specialization     string     `db:"specialization" json:"specialization"`
	Qualification      string     `db:"qualification" json:"qualification"`
	ExperienceYears    int        `db:"experience_years" json:"experience_years"`
	LicenseNumber      string     `db:"license_number" json:"license_number,omitempty"`
	Hospital           string     `db:"hospital" json:"hospital"`
	Location           string     `db:"location" json:"location"`
	Rating             float64    `db:"rating" json:"rating"`
	ConsultationFee    int        `db:"consultation_fee" json:"consultation_fee"`
	AvailableSlots     []Slot     `db:"available_slots" json:"available_slots"`
	Languages          []string   `db:"languages" json:"languages"`
	Bio                string     `db:"bio" json:"bio,omitempty"`
	ProfileImage       string     `db:"profile_image" json:"profile_image,omitempty"`
	TotalPatients      int        `db:"total_patients" json:"total_patients"`
	TotalConsultations int        `db:"total_consultations" json:"total_consultations"`
	Verified           bool       `db:"verified" json:"verified"`
	Active             bool       `db:"active" json:"active"`
	DeletedAt          *time.Time `db:"deleted_at" json:"-"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

func (d *Doctor) FullName() string {
	return "Dr. " + d.FirstName + " " + d.LastName
}

// Listed reports whether the profile is visible in discovery.
func (d *Doctor) Listed() bool {
	return d.Active && d.Verified && d.DeletedAt == nil
}

// View is the public representation of a doctor.
type View struct {
	*Doctor
	FullName string `json:"full_name"`
}

func (d *Doctor) View() View {
	return View{Doctor: d, FullName: d.FullName()}
}

func Views(ds []*Doctor) []View {
	out := make([]View, len(ds))
	for i, d := range ds {
		out[i] = d.View()
	}
	return out
}

// Filter narrows a doctor listing. Empty fields do not filter.
type Filter struct {
	Location       string
	Specialization string
	Search         string
}

// Facets are the distinct values available for filtering.
type Facets struct {
	Locations       []string `json:"locations"`
	Specializations []string `json:"specializations"`
}

// Profile is the administrator-maintained clinical part of a doctor profile.
type Profile struct {
	Specialization  string   `json:"specialization"`
	Qualification   string   `json:"qualification"`
	ExperienceYears int      `json:"experience_years"`
	LicenseNumber   string   `json:"license_number"`
	Hospital        string   `json:"hospital"`
	Location        string   `json:"location"`
	Rating          *float64 `json:"rating,omitempty"`
	ConsultationFee *int     `json:"consultation_fee,omitempty"`
	AvailableSlots  []Slot   `json:"available_slots"`
	Languages       []string `json:"languages"`
	Bio             string   `json:"bio"`
}
