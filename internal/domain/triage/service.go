package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/htncare/outreach/internal/platform/notification"
)

// NoteTruncateLen caps the last-note preview on the outreach list view.
const NoteTruncateLen = 150

// Service implements the outreach operations on top of the repositories.
type Service struct {
	items    ItemRepository
	attempts AttemptRepository
	patients PatientSource
	readings ReadingSource
	tx       TxRunner
	email    notification.EmailSender
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(items ItemRepository, attempts AttemptRepository, patients PatientSource, readings ReadingSource, tx TxRunner, email notification.EmailSender, metrics *Metrics, log zerolog.Logger) *Service {
	return &Service{
		items:    items,
		attempts: attempts,
		patients: patients,
		readings: readings,
		tx:       tx,
		email:    email,
		metrics:  metrics,
		log:      log.With().Str("component", "triage_service").Logger(),
		now:      time.Now,
	}
}

// =========== Outreach List ===========

// EnrichedItem is one outreach list row with patient and vitals context.
type EnrichedItem struct {
	*Item
	Patient       *PatientSummary `json:"patient,omitempty"`
	LatestReading *VitalReading   `json:"latest_reading,omitempty"`
	Avg7Day       *BPAverage      `json:"avg_7_day,omitempty"`
	Avg30Day      *BPAverage      `json:"avg_30_day,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	LastAttempt   *AttemptBrief   `json:"last_attempt,omitempty"`
}

// BPAverage is a rounded mean blood pressure over a window.
type BPAverage struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
	Count     int `json:"count"`
}

// AttemptBrief is the condensed last-attempt view shown on the list.
type AttemptBrief struct {
	Outcome   Outcome   `json:"outcome"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListResult is the outreach list response.
type ListResult struct {
	Items      []*EnrichedItem  `json:"items"`
	Summary    map[ListType]int `json:"summary"`
	TotalCount int              `json:"total_count"`
}

// StatusAll widens the list view to every item regardless of status.
const StatusAll = "all"

// ListItems returns items matching the filters, enriched with patient data,
// recent vitals, and attempt history. An empty status defaults to open;
// StatusAll lists open and closed items together.
func (s *Service) ListItems(ctx context.Context, listType *ListType, status string) (*ListResult, error) {
	if listType != nil && !listType.Valid() {
		return nil, validationf("invalid list_type %q", *listType)
	}
	var st *Status
	switch status {
	case "", string(StatusOpen):
		v := StatusOpen
		st = &v
	case string(StatusClosed):
		v := StatusClosed
		st = &v
	case StatusAll:
	default:
		return nil, validationf("invalid status %q", status)
	}

	items, err := s.items.List(ctx, listType, st)
	if err != nil {
		return nil, err
	}
	summary, err := s.items.CountOpenByList(ctx)
	if err != nil {
		return nil, err
	}

	patientIDs := make([]uuid.UUID, 0, len(items))
	itemIDs := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]bool)
	for _, it := range items {
		itemIDs = append(itemIDs, it.ID)
		if !seen[it.PatientID] {
			seen[it.PatientID] = true
			patientIDs = append(patientIDs, it.PatientID)
		}
	}

	patients, err := s.patients.Summaries(ctx, patientIDs)
	if err != nil {
		return nil, err
	}
	now := s.now()
	readings30, err := s.readings.ReadingsForPatients(ctx, patientIDs, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	latest, err := s.readings.LatestReadings(ctx, patientIDs)
	if err != nil {
		return nil, err
	}
	counts, err := s.attempts.CountByItems(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	lastAttempts, err := s.attempts.LastByItems(ctx, itemIDs)
	if err != nil {
		return nil, err
	}

	weekAgo := now.AddDate(0, 0, -7)
	enriched := make([]*EnrichedItem, 0, len(items))
	for _, it := range items {
		row := &EnrichedItem{Item: it, AttemptCount: counts[it.ID]}

		if p, ok := patients[it.PatientID]; ok {
			pc := p
			row.Patient = &pc
		}
		if r, ok := latest[it.PatientID]; ok {
			rc := r
			row.LatestReading = &rc
		}

		all := readings30[it.PatientID]
		row.Avg30Day = averageOf(all)
		var recent []VitalReading
		for _, r := range all {
			if !r.ReadingDate.Before(weekAgo) {
				recent = append(recent, r)
			}
		}
		row.Avg7Day = averageOf(recent)

		if a, ok := lastAttempts[it.ID]; ok {
			row.LastAttempt = &AttemptBrief{
				Outcome:   a.Outcome,
				Note:      truncateNote(a.Notes),
				CreatedAt: a.CreatedAt,
			}
		}
		enriched = append(enriched, row)
	}

	return &ListResult{Items: enriched, Summary: summary, TotalCount: len(enriched)}, nil
}

func averageOf(rs []VitalReading) *BPAverage {
	if len(rs) == 0 {
		return nil
	}
	sys := make([]int, len(rs))
	dia := make([]int, len(rs))
	for i, r := range rs {
		sys[i], dia[i] = r.Systolic, r.Diastolic
	}
	avgSys, avgDia := AverageBP(sys, dia)
	return &BPAverage{Systolic: *avgSys, Diastolic: *avgDia, Count: len(rs)}
}

func truncateNote(note string) string {
	if len(note) > NoteTruncateLen {
		return note[:NoteTruncateLen] + "..."
	}
	return note
}

// =========== Attempts ===========

// AttemptInput carries the fields a case worker submits for one attempt.
type AttemptInput struct {
	Outcome        Outcome    `json:"outcome"`
	Notes          string     `json:"notes"`
	FollowUpNeeded bool       `json:"follow_up_needed"`
	FollowUpDate   *time.Time `json:"follow_up_date"`
	FollowUpDays   *int       `json:"follow_up_days"`
	MaterialsSent  bool       `json:"materials_sent"`
	MaterialsDesc  *string    `json:"materials_desc"`
	ReferralMade   bool       `json:"referral_made"`
	ReferralTo     *string    `json:"referral_to"`
}

// AttemptResult is the outcome of logging one attempt.
type AttemptResult struct {
	Attempt    *Attempt `json:"attempt"`
	Item       *Item    `json:"item"`
	AutoClosed bool     `json:"auto_closed"`
}

// LogAttempt records a contact attempt against an open item. When the
// attempt brings the unsuccessful count to the auto-close threshold the item
// closes and the patient enters a cooldown for that list type. The attempt
// insert and any close happen in one transaction.
func (s *Service) LogAttempt(ctx context.Context, itemID, caseWorkerID uuid.UUID, in AttemptInput) (*AttemptResult, error) {
	if !in.Outcome.Valid() {
		return nil, validationf("invalid outcome %q", in.Outcome)
	}
	followUp, err := resolveFollowUp(in.FollowUpDate, in.FollowUpDays, s.now())
	if err != nil {
		return nil, err
	}

	var res *AttemptResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		item, err := s.items.GetByIDForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Status != StatusOpen {
			return fmt.Errorf("%w: cannot log attempt on a closed item", ErrInvalidState)
		}

		attempt := &Attempt{
			ItemID:         item.ID,
			PatientID:      item.PatientID,
			CaseWorkerID:   caseWorkerID,
			Outcome:        in.Outcome,
			Notes:          in.Notes,
			FollowUpNeeded: in.FollowUpNeeded,
			FollowUpDate:   followUp,
			MaterialsSent:  in.MaterialsSent,
			MaterialsDesc:  in.MaterialsDesc,
			ReferralMade:   in.ReferralMade,
			ReferralTo:     in.ReferralTo,
		}
		if err := s.attempts.Create(ctx, attempt); err != nil {
			return err
		}

		if followUp != nil {
			item.FollowUpDate = followUp
		}

		autoClosed := false
		if in.Outcome.CountsTowardAutoClose() {
			n, err := s.attempts.CountUnsuccessful(ctx, item.ID)
			if err != nil {
				return err
			}
			if n >= AutoCloseThreshold {
				now := s.now()
				reason := CloseAutomatic
				cooldown := now.Add(CooldownPeriod)
				item.Status = StatusClosed
				item.CloseReason = &reason
				item.ClosedAt = &now
				item.ClosedBy = &caseWorkerID
				item.CooldownUntil = &cooldown
				autoClosed = true
			}
		}
		if err := s.items.Update(ctx, item); err != nil {
			return err
		}

		res = &AttemptResult{Attempt: attempt, Item: item, AutoClosed: autoClosed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AttemptsTotal.WithLabelValues(string(in.Outcome)).Inc()
		if res.AutoClosed {
			s.metrics.AutoClosesTotal.Inc()
		}
	}
	s.log.Info().
		Str("item_id", itemID.String()).
		Str("outcome", string(in.Outcome)).
		Bool("auto_closed", res.AutoClosed).
		Msg("attempt logged")
	return res, nil
}

func resolveFollowUp(date *time.Time, days *int, now time.Time) (*time.Time, error) {
	if date != nil {
		return date, nil
	}
	if days != nil {
		if *days <= 0 {
			return nil, validationf("follow_up_days must be positive")
		}
		d := now.AddDate(0, 0, *days)
		return &d, nil
	}
	return nil, nil
}

// =========== Item Lifecycle ===========

// CloseItem closes an open item with a case worker supplied reason.
func (s *Service) CloseItem(ctx context.Context, itemID, closedBy uuid.UUID, reason CloseReason, note string) (*Item, error) {
	if !manualCloseReasons[reason] {
		return nil, validationf("invalid close reason %q", reason)
	}

	var item *Item
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.items.GetByIDForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Status != StatusOpen {
			return fmt.Errorf("%w: item is already closed", ErrInvalidState)
		}

		now := s.now()
		item.Status = StatusClosed
		item.CloseReason = &reason
		item.ClosedAt = &now
		item.ClosedBy = &closedBy
		if note != "" {
			item.CloseNote = &note
		}
		return s.items.Update(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("item_id", itemID.String()).
		Str("reason", string(reason)).
		Msg("item closed")
	return item, nil
}

// ScheduleFollowUp sets the item's follow-up date, either directly or as a
// day offset from now.
func (s *Service) ScheduleFollowUp(ctx context.Context, itemID uuid.UUID, date *time.Time, days *int) (*Item, error) {
	followUp, err := resolveFollowUp(date, days, s.now())
	if err != nil {
		return nil, err
	}
	if followUp == nil {
		return nil, validationf("provide follow_up_date or follow_up_days")
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item.FollowUpDate = followUp
	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// =========== History and Reports ===========

// History returns a patient's attempts, newest first.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	return s.attempts.ListByPatient(ctx, patientID, limit, offset)
}

// ReportResult is the reporting response: filtered attempts enriched with
// patient names, plus aggregate stats.
type ReportResult struct {
	Attempts   []*ReportEntry `json:"attempts"`
	TotalCount int            `json:"total_count"`
	Summary    *ReportStats   `json:"summary"`
}

// ReportEntry is one report row with the patient's display name attached.
type ReportEntry struct {
	*ReportRow
	PatientName string `json:"patient_name"`
}

// Reports returns attempts matching the filter with patient names and
// outcome totals.
func (s *Service) Reports(ctx context.Context, f ReportFilter) (*ReportResult, error) {
	if f.Outcome != nil && !f.Outcome.Valid() {
		return nil, validationf("invalid outcome %q", *f.Outcome)
	}
	if f.ListType != nil && !f.ListType.Valid() {
		return nil, validationf("invalid list_type %q", *f.ListType)
	}

	rows, err := s.attempts.ListForReport(ctx, f)
	if err != nil {
		return nil, err
	}

	patientIDs := make([]uuid.UUID, 0, len(rows))
	seen := make(map[uuid.UUID]bool)
	for _, r := range rows {
		if !seen[r.PatientID] {
			seen[r.PatientID] = true
			patientIDs = append(patientIDs, r.PatientID)
		}
	}
	patients, err := s.patients.Summaries(ctx, patientIDs)
	if err != nil {
		return nil, err
	}

	entries := make([]*ReportEntry, 0, len(rows))
	for _, r := range rows {
		name := "Patient " + r.PatientID.String()[:8]
		if p, ok := patients[r.PatientID]; ok {
			name = p.FirstName + " " + p.LastName
		}
		entries = append(entries, &ReportEntry{ReportRow: r, PatientName: name})
	}

	stats, err := s.attempts.Stats(ctx, s.now().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	return &ReportResult{Attempts: entries, TotalCount: len(entries), Summary: stats}, nil
}

// =========== Email ===========

// EmailInput is an outbound patient email composed by a case worker.
type EmailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailResult reports the delivery outcome and the logged attempt.
type EmailResult struct {
	Attempt    *Attempt `json:"attempt"`
	EmailSent  bool     `json:"email_sent"`
	EmailError string   `json:"email_error,omitempty"`
}

// SendEmail delivers an email to the patient and logs an email_sent attempt
// against the open item whether or not delivery succeeded.
func (s *Service) SendEmail(ctx context.Context, itemID, caseWorkerID uuid.UUID, in EmailInput) (*EmailResult, error) {
	if in.To == "" || in.Subject == "" || in.Body == "" {
		return nil, validationf("to, subject, and body are required")
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot send email on a closed item", ErrInvalidState)
	}

	res := &EmailResult{}
	if err := s.email.SendEmail(ctx, in.To, in.Subject, in.Body); err != nil {
		s.log.Error().Err(err).Str("item_id", itemID.String()).Msg("email delivery failed")
		res.EmailError = "Failed to send email"
	} else {
		res.EmailSent = true
	}

	attempt := &Attempt{
		ItemID:       item.ID,
		PatientID:    item.PatientID,
		CaseWorkerID: caseWorkerID,
		Outcome:      OutcomeEmailSent,
		Notes:        fmt.Sprintf("Email to: %s\nSubject: %s\n\n%s", in.To, in.Subject, in.Body),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AttemptsTotal.WithLabelValues(string(OutcomeEmailSent)).Inc()
	}
	res.Attempt = attempt
	return res, nil
}

// GetItem returns one item by ID.
func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.items.GetByID(ctx, id)
}

// ListAttempts returns all attempts for one item, newest first.
func (s *Service) ListAttempts(ctx context.Context, itemID uuid.UUID) ([]*Attempt, error) {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return nil, err
	}
	return s.attempts.ListByItem(ctx, itemID)
}
