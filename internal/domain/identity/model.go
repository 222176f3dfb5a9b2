package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/internal/platform/idp"
)

// Identity is the local replica of a provider user. ProviderID is the
// correlation key for every mutation.
type Identity struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	ProviderID        string     `db:"provider_id" json:"provider_id"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	Email             string     `db:"email" json:"email"`
	Phone             string     `db:"phone" json:"phone,omitempty"`
	Role              auth.Role  `db:"role" json:"role"`
	Verified          bool       `db:"verified" json:"verified"`
	Active            bool       `db:"active" json:"active"`
	DeletedAt         *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	ProfileImage      string     `db:"profile_image" json:"profile_image,omitempty"`
	LoginCount        int        `db:"login_count" json:"login_count"`
	LastLoginAt       *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	ProviderUpdatedAt *time.Time `db:"provider_updated_at" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Deleted reports whether the identity is a tombstone.
func (i *Identity) Deleted() bool {
	return !i.Active || i.DeletedAt != nil
}

// Profile is the provider-owned part of an identity as carried by events and
// the provider listing.
type Profile struct {
	ProviderID    string
	FirstName     string
	LastName      string
	Email         string
	EmailVerified bool
	Phone         string
	ImageURL      string
	// RoleClaim is the raw role from the provider's public metadata; empty
	// when absent.
	RoleClaim string
	UpdatedAt time.Time
}

// ProfileFromUser maps a provider user object.
func ProfileFromUser(u idp.User) Profile {
	email, verified := u.PrimaryEmail()
	p := Profile{
		ProviderID:    u.ID,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         email,
		EmailVerified: verified,
		Phone:         u.Phone(),
		ImageURL:      u.ImageURL,
		RoleClaim:     u.RoleClaim(),
	}
	if u.UpdatedAt > 0 {
		p.UpdatedAt = time.UnixMilli(u.UpdatedAt).UTC()
	}
	return p
}

// ClaimedRole parses the role claim. The legacy value "user" reads as
// patient. ok is false when the claim is absent or unrecognised.
func (p Profile) ClaimedRole() (role auth.Role, ok bool) {
	claim := strings.ToLower(strings.TrimSpace(p.RoleClaim))
	if claim == "user" {
		return auth.RolePatient, true
	}
	r := auth.Role(claim)
	return r, r.Valid()
}

func (p Profile) updatedAt() *time.Time {
	if p.UpdatedAt.IsZero() {
		return nil
	}
	t := p.UpdatedAt
	return &t
}

func (p Profile) identity(role auth.Role) *Identity {
	return &Identity{
		ProviderID:        p.ProviderID,
		FirstName:         p.FirstName,
		LastName:          p.LastName,
		Email:             p.Email,
		Phone:             p.Phone,
		Role:              role,
		Verified:          p.EmailVerified,
		Active:            true,
		ProfileImage:      p.ImageURL,
		ProviderUpdatedAt: p.updatedAt(),
	}
}

type EventType string

const (
	EventCreated        EventType = "identity.created"
	EventUpdated        EventType = "identity.updated"
	EventDeleted        EventType = "identity.deleted"
	EventSessionStarted EventType = "session.created"
)

// Event is one provider notification. Profile is set for created and
// updated events; ProviderID is always set.
type Event struct {
	Type       EventType
	ProviderID string
	Profile    Profile
	At         time.Time
}

// SyncResult summarises a bulk reconciliation.
type SyncResult struct {
	Total   int           `json:"total"`
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Failed  []SyncFailure `json:"failed"`
}

type SyncFailure struct {
	ProviderID string `json:"provider_id"`
	Error      string `json:"error"`
}

func (r *SyncResult) add(o SyncResult) {
	r.Total += o.Total
	r.Created += o.Created
	r.Skipped += o.Skipped
	r.Failed = append(r.Failed, o.Failed...)
}
