package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("appointment request not found")

type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// Transition locks the request, passes it to fn and persists the mutable
	// fields if fn succeeds. Concurrent transitions of one request serialize;
	// fn always sees the latest committed status.
	Transition(ctx context.Context, id uuid.UUID, fn func(r *Request) error) (*Request, error)
	// ListByDoctor returns newest first. status nil means any.
	ListByDoctor(ctx context.Context, doctorProviderID string, status *Status, limit, offset int) ([]*Request, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Request, int, error)
	CountByPatient(ctx context.Context, patientID uuid.UUID) (Counts, error)
}
