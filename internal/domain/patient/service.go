package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrValidation wraps input validation failures.
var ErrValidation = errors.New("validation")

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "patient_service").Logger()}
}

// Create enrolls a new patient. Email is normalized to lowercase; the
// lifecycle starts at pending_approval unless a valid status is supplied.
func (s *Service) Create(ctx context.Context, p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	if p.FirstName == "" || p.LastName == "" {
		return validationf("first_name and last_name are required")
	}
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return validationf("a valid email is required")
	}
	if p.Status == "" {
		p.Status = StatusPendingApproval
	}
	if !p.Status.Valid() {
		return validationf("invalid status %q", p.Status)
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.log.Info().Str("patient_id", p.ID.String()).Str("status", string(p.Status)).Msg("patient enrolled")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	return s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if !p.Status.Valid() {
		return validationf("invalid status %q", p.Status)
	}
	return s.repo.Update(ctx, p)
}

// UpdateStatus moves a patient to a new lifecycle status.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Valid() {
		return validationf("invalid status %q", status)
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.log.Info().Str("patient_id", id.String()).Str("status", string(status)).Msg("patient status changed")
	return nil
}

// MarkActive promotes a patient to active. Called when the first blood
// pressure reading arrives.
func (s *Service) MarkActive(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == StatusActive {
		return nil
	}
	return s.repo.UpdateStatus(ctx, id, StatusActive)
}

func (s *Service) List(ctx context.Context, status *Status, limit, offset int) ([]*Patient, int, error) {
	if status != nil && !status.Valid() {
		return nil, 0, validationf("invalid status %q", *status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

func (s *Service) ActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ActiveIDs(ctx)
}

func (s *Service) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Patient, error) {
	return s.repo.GetByIDs(ctx, ids)
}
