package triage

import (
	"time"

	"github.com/google/uuid"
)

// ListType identifies which outreach list a triage item belongs to.
type ListType string

const (
	ListNurse     ListType = "nurse"
	ListCoach     ListType = "coach"
	ListNoReading ListType = "no_reading"
)

// Valid reports whether lt is a known list type.
func (lt ListType) Valid() bool {
	switch lt {
	case ListNurse, ListCoach, ListNoReading:
		return true
	}
	return false
}

// Status tracks where a triage item is in its lifecycle.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// CloseReason records why a triage item was closed.
type CloseReason string

const (
	CloseResolved  CloseReason = "resolved"
	CloseNotNeeded CloseReason = "not_needed"
	CloseAutomatic CloseReason = "auto_closed_3_attempts"
	CloseOther     CloseReason = "other"
)

// manualCloseReasons are the reasons a case worker may supply; the automatic
// reason is reserved for the auto-close rule.
var manualCloseReasons = map[CloseReason]bool{
	CloseResolved:  true,
	CloseNotNeeded: true,
	CloseOther:     true,
}

// Priority is the urgency tier of a triage item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank maps priorities to sort order, high first. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Outcome is the result of one contact attempt.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeLeftVoicemail     Outcome = "left_vm"
	OutcomeNoAnswer          Outcome = "no_answer"
	OutcomeEmailSent         Outcome = "email_sent"
	OutcomeRequestedCallback Outcome = "requested_callback"
	OutcomeRefused           Outcome = "refused"
	OutcomeSentMaterials     Outcome = "sent_materials"
)

// Outcomes lists the full taxonomy in display order.
var Outcomes = []Outcome{
	OutcomeCompleted,
	OutcomeLeftVoicemail,
	OutcomeNoAnswer,
	OutcomeEmailSent,
	OutcomeRequestedCallback,
	OutcomeRefused,
	OutcomeSentMaterials,
}

// Valid reports whether o is in the outcome taxonomy.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeLeftVoicemail, OutcomeNoAnswer, OutcomeEmailSent,
		OutcomeRequestedCallback, OutcomeRefused, OutcomeSentMaterials:
		return true
	}
	return false
}

// CountsTowardAutoClose reports whether o is an unsuccessful contact that
// counts toward the auto-close threshold.
func (o Outcome) CountsTowardAutoClose() bool {
	switch o {
	case OutcomeLeftVoicemail, OutcomeNoAnswer, OutcomeRefused:
		return true
	}
	return false
}

// Auto-close policy. An item closes automatically after AutoCloseThreshold
// unsuccessful contact attempts and the patient enters a cooldown for that
// list type.
const (
	AutoCloseThreshold = 3
	CooldownPeriod     = 14 * 24 * time.Hour
)

// Item is one assignment of a patient to an outreach list. At most one open
// item exists per (patient, list type); a closed item with a future
// cooldown_until blocks re-assignment to the same list type.
type Item struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	PatientID      uuid.UUID    `db:"patient_id" json:"patient_id"`
	ListType       ListType     `db:"list_type" json:"list_type"`
	Status         Status       `db:"status" json:"status"`
	CloseReason    *CloseReason `db:"close_reason" json:"close_reason,omitempty"`
	CloseNote      *string      `db:"close_note" json:"close_note,omitempty"`
	Priority       Priority     `db:"priority" json:"priority"`
	PriorityTitle  string       `db:"priority_title" json:"priority_title"`
	PriorityDetail string       `db:"priority_detail" json:"priority_detail"`
	CooldownUntil  *time.Time   `db:"cooldown_until" json:"cooldown_until,omitempty"`
	FollowUpDate   *time.Time   `db:"follow_up_date" json:"follow_up_date,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
	ClosedAt       *time.Time   `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy       *uuid.UUID   `db:"closed_by" json:"closed_by,omitempty"`
}

// Attempt is one immutable record of a contact action against an item.
// Notes may contain PHI and are encrypted at rest by the repository.
type Attempt struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ItemID         uuid.UUID  `db:"item_id" json:"item_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	CaseWorkerID   uuid.UUID  `db:"case_worker_id" json:"case_worker_id"`
	Outcome        Outcome    `db:"outcome" json:"outcome"`
	Notes          string     `db:"notes" json:"notes,omitempty"`
	FollowUpNeeded bool       `db:"follow_up_needed" json:"follow_up_needed"`
	FollowUpDate   *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	MaterialsSent  bool       `db:"materials_sent" json:"materials_sent"`
	MaterialsDesc  *string    `db:"materials_desc" json:"materials_desc,omitempty"`
	ReferralMade   bool       `db:"referral_made" json:"referral_made"`
	ReferralTo     *string    `db:"referral_to" json:"referral_to,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
