package patient

import (
	"time"

	"github.com/google/uuid"
)

// Status is where a patient is in the enrollment lifecycle. Only active
// patients are evaluated by the outreach triage pass.
type Status string

const (
	StatusPendingApproval     Status = "pending_approval"
	StatusPendingRegistration Status = "pending_registration"
	StatusPendingCuff         Status = "pending_cuff"
	StatusPendingFirstReading Status = "pending_first_reading"
	StatusActive              Status = "active"
	StatusDeactivated         Status = "deactivated"
	StatusEnrollmentOnly      Status = "enrollment_only"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusPendingRegistration, StatusPendingCuff,
		StatusPendingFirstReading, StatusActive, StatusDeactivated, StatusEnrollmentOnly:
		return true
	}
	return false
}

// Patient is an enrolled program member. Name, email, phone, and date of
// birth are PHI and encrypted at rest; EmailHash is a keyed digest kept
// alongside the ciphertext for equality lookups.
type Patient struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	EmailHash   string    `json:"-"`
	Phone       string    `json:"phone,omitempty"`
	DateOfBirth *string   `json:"date_of_birth,omitempty"`
	Status      Status    `json:"status"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
