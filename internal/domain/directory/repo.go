package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("doctor not found")
	// ErrNotDoctor means the provider id has no active identity with the
	// doctor role.
	ErrNotDoctor = errors.New("identity is not an active doctor")
)

type Repository interface {
	// List returns listed doctors matching f, ordered by rating, experience
	// and total consultations, plus the total match count.
	List(ctx context.Context, f Filter, limit, offset int) ([]*Doctor, int, error)
	// Listed returns every listed doctor ordered by rating.
	Listed(ctx context.Context) ([]*Doctor, error)
	Facets(ctx context.Context) (Facets, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByProviderID(ctx context.Context, providerID string) (*Doctor, error)
	// GetBookable returns the doctor when both the profile and its identity
	// are active and the identity holds the doctor role.
	GetBookable(ctx context.Context, id uuid.UUID) (*Doctor, error)
	UpsertProfile(ctx context.Context, providerID string, p Profile) (*Doctor, error)
	IncrementConsultations(ctx context.Context, id uuid.UUID) error
}
