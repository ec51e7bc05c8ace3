package reading

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("reading not found")

// Repository persists blood pressure readings.
type Repository interface {
	Create(ctx context.Context, r *Reading) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reading, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error)
	// CountByPatient returns how many readings the patient has submitted.
	CountByPatient(ctx context.Context, patientID uuid.UUID) (int, error)
	// ListSince returns readings taken at or after since, grouped by patient.
	ListSince(ctx context.Context, since time.Time) (map[uuid.UUID][]*Reading, error)
	ListForPatientsSince(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID][]*Reading, error)
	// LatestPerPatient returns each patient's most recent reading.
	LatestPerPatient(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Reading, error)
	// LatestTimes returns each patient's most recent reading time across
	// all patients.
	LatestTimes(ctx context.Context) (map[uuid.UUID]time.Time, error)
}
