package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("patient not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Repository persists patients. Implementations handle PHI encryption; the
// Patient structs crossing this boundary always carry plaintext.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByEmail(ctx context.Context, email string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	List(ctx context.Context, status *Status, limit, offset int) ([]*Patient, int, error)
	// ActiveIDs returns the ids of all active, non-admin patients.
	ActiveIDs(ctx context.Context) ([]uuid.UUID, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Patient, error)
}
