package identity

import (
	"context"
	"errors"
	"time"

	"github.com/ehr/consult/internal/platform/auth"
)

var ErrNotFound = errors.New("identity not found")

// UpdateOutcome describes what an upsert did.
type UpdateOutcome string

const (
	OutcomeCreated UpdateOutcome = "created"
	OutcomeUpdated UpdateOutcome = "updated"
	// OutcomeStale means the stored record is newer than the event.
	OutcomeStale UpdateOutcome = "stale"
)

// Repository persists identities and the contact columns of doctor profiles.
// Every write is a single statement keyed by provider id.
type Repository interface {
	// InsertIfAbsent creates the identity unless one with the same provider
	// id exists. created is false for duplicates.
	InsertIfAbsent(ctx context.Context, i *Identity) (created bool, err error)
	// Upsert creates the identity with createRole when missing. Otherwise it
	// overwrites the mutable fields unless the stored provider_updated_at is
	// newer. role, when non-nil, replaces the stored role. Active and
	// deleted_at are never changed.
	Upsert(ctx context.Context, p Profile, createRole auth.Role, role *auth.Role) (*Identity, UpdateOutcome, error)
	// Tombstone marks the identity deleted, creating the row when missing.
	Tombstone(ctx context.Context, providerID string) error
	// RecordLogin bumps the login counter. last_login_at never moves back.
	RecordLogin(ctx context.Context, providerID string, at time.Time) error
	GetByProviderID(ctx context.Context, providerID string) (*Identity, error)

	UpsertDoctorContact(ctx context.Context, i *Identity) error
	SoftDeleteDoctor(ctx context.Context, providerID string) error
}
