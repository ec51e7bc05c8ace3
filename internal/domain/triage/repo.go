package triage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ItemRepository persists triage items.
type ItemRepository interface {
	// Create inserts a new item. Returns ErrConflict when an open item
	// already exists for the same patient and list type.
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	// GetByIDForUpdate locks the item row for the duration of the
	// enclosing transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Item, error)
	GetOpenByPatientAndList(ctx context.Context, patientID uuid.UUID, listType ListType) (*Item, error)
	// GetLatestByPatientAndList returns the most recently created item for
	// the pair regardless of status, for cooldown checks.
	GetLatestByPatientAndList(ctx context.Context, patientID uuid.UUID, listType ListType) (*Item, error)
	Update(ctx context.Context, item *Item) error
	// List returns items ordered by priority rank then created_at
	// descending. A nil listType or status matches all.
	List(ctx context.Context, listType *ListType, status *Status) ([]*Item, error)
	// CountOpenByList returns open item counts keyed by list type.
	CountOpenByList(ctx context.Context) (map[ListType]int, error)
}

// AttemptRepository persists contact attempts. Attempts are append-only.
type AttemptRepository interface {
	Create(ctx context.Context, a *Attempt) error
	// CountUnsuccessful counts attempts on the item whose outcome counts
	// toward the auto-close threshold.
	CountUnsuccessful(ctx context.Context, itemID uuid.UUID) (int, error)
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Attempt, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Attempt, int, error)
	// LastByItems returns each item's most recent attempt.
	LastByItems(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*Attempt, error)
	// CountByItems returns attempt counts keyed by item ID.
	CountByItems(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]int, error)
	ListForReport(ctx context.Context, f ReportFilter) ([]*ReportRow, error)
	// Stats returns attempt totals across all time, since the given time,
	// and per outcome.
	Stats(ctx context.Context, since time.Time) (*ReportStats, error)
}

// ReportRow is an attempt joined with the list type of its item.
type ReportRow struct {
	Attempt
	ListType ListType `json:"list_type"`
}

// ReportStats aggregates attempt counts for the reporting view.
type ReportStats struct {
	TotalAll  int             `json:"total_all"`
	TotalWeek int             `json:"total_week"`
	ByOutcome map[Outcome]int `json:"by_outcome"`
}

// ReportFilter narrows the attempt set for reporting. Nil fields match all.
// From is inclusive, To exclusive.
type ReportFilter struct {
	From         *time.Time
	To           *time.Time
	CaseWorkerID *uuid.UUID
	Outcome      *Outcome
	ListType     *ListType
}

// TxRunner runs fn inside a storage transaction. Repository calls made with
// the ctx passed to fn join that transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PatientSummary is the slice of patient data the outreach views need.
type PatientSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
}

// PatientSource supplies patient data to triage without coupling it to the
// patient domain's storage.
type PatientSource interface {
	ActiveIDs(ctx context.Context) ([]uuid.UUID, error)
	Summaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]PatientSummary, error)
}

// VitalReading is one blood pressure measurement.
type VitalReading struct {
	Systolic    int       `json:"systolic"`
	Diastolic   int       `json:"diastolic"`
	HeartRate   *int      `json:"heart_rate,omitempty"`
	ReadingDate time.Time `json:"reading_date"`
}

// ReadingSource supplies vitals to triage.
type ReadingSource interface {
	// ReadingsSince returns readings taken at or after since, grouped by
	// patient.
	ReadingsSince(ctx context.Context, since time.Time) (map[uuid.UUID][]VitalReading, error)
	// LatestReadingTimes returns each patient's most recent reading time,
	// across all time. Patients with no readings are absent.
	LatestReadingTimes(ctx context.Context) (map[uuid.UUID]time.Time, error)
	ReadingsForPatients(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID][]VitalReading, error)
	LatestReadings(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]VitalReading, error)
}
