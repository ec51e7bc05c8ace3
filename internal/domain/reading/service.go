package reading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrValidation wraps input validation failures.
var ErrValidation = errors.New("validation")

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// PatientActivator promotes a patient to active once their first reading
// arrives.
type PatientActivator interface {
	MarkActive(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo      Repository
	activator PatientActivator
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, activator PatientActivator, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		activator: activator,
		log:       log.With().Str("component", "reading_service").Logger(),
		now:       time.Now,
	}
}

// Create validates and stores a reading. The patient's first reading moves
// them to the active lifecycle status.
func (s *Service) Create(ctx context.Context, rd *Reading) error {
	if rd.PatientID == uuid.Nil {
		return validationf("patient_id is required")
	}
	if rd.Systolic < SystolicMin || rd.Systolic > SystolicMax {
		return validationf("systolic %d out of range [%d, %d]", rd.Systolic, SystolicMin, SystolicMax)
	}
	if rd.Diastolic < DiastolicMin || rd.Diastolic > DiastolicMax {
		return validationf("diastolic %d out of range [%d, %d]", rd.Diastolic, DiastolicMin, DiastolicMax)
	}
	if rd.HeartRate != nil && (*rd.HeartRate < HeartRateMin || *rd.HeartRate > HeartRateMax) {
		return validationf("heart_rate %d out of range [%d, %d]", *rd.HeartRate, HeartRateMin, HeartRateMax)
	}
	if rd.ReadingDate.IsZero() {
		rd.ReadingDate = s.now()
	}
	if rd.ReadingDate.After(s.now().Add(time.Hour)) {
		return validationf("reading_date is in the future")
	}

	if err := s.repo.Create(ctx, rd); err != nil {
		return err
	}

	n, err := s.repo.CountByPatient(ctx, rd.PatientID)
	if err != nil {
		return err
	}
	if n == 1 && s.activator != nil {
		if err := s.activator.MarkActive(ctx, rd.PatientID); err != nil {
			// The reading is already stored; activation will retry on the
			// next submission.
			s.log.Error().Err(err).Str("patient_id", rd.PatientID.String()).Msg("activate on first reading failed")
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListSince(ctx context.Context, since time.Time) (map[uuid.UUID][]*Reading, error) {
	return s.repo.ListSince(ctx, since)
}

func (s *Service) ListForPatientsSince(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID][]*Reading, error) {
	return s.repo.ListForPatientsSince(ctx, ids, since)
}

func (s *Service) LatestPerPatient(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Reading, error) {
	return s.repo.LatestPerPatient(ctx, ids)
}

func (s *Service) LatestTimes(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	return s.repo.LatestTimes(ctx)
}
