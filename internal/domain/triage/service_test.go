package triage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/htncare/outreach/internal/platform/notification"
)

type fixture struct {
	items    *mockItemRepo
	attempts *mockAttemptRepo
	patients *mockPatientSource
	readings *mockReadingSource
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		items:    newMockItemRepo(),
		attempts: &mockAttemptRepo{},
		patients: &mockPatientSource{summaries: make(map[uuid.UUID]PatientSummary)},
		readings: &mockReadingSource{readings: make(map[uuid.UUID][]VitalReading)},
	}
	f.svc = NewService(f.items, f.attempts, f.patients, f.readings, passTx{},
		notification.NopSender{}, nil, zerolog.Nop())
	return f
}

func (f *fixture) openItem(t *testing.T, patientID uuid.UUID, listType ListType) *Item {
	t.Helper()
	item := &Item{
		PatientID: patientID,
		ListType:  listType,
		Status:    StatusOpen,
		Priority:  PriorityHigh,
	}
	if err := f.items.Create(context.Background(), item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func TestLogAttempt_RecordsAttempt(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)
	worker := uuid.New()

	res, err := f.svc.LogAttempt(context.Background(), item.ID, worker, AttemptInput{
		Outcome: OutcomeCompleted,
		Notes:   "spoke with patient",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AutoClosed {
		t.Error("completed outcome must not auto-close")
	}
	if res.Attempt.CaseWorkerID != worker {
		t.Errorf("case worker = %s, want %s", res.Attempt.CaseWorkerID, worker)
	}
	if res.Item.Status != StatusOpen {
		t.Errorf("item status = %s, want open", res.Item.Status)
	}
}

func TestLogAttempt_InvalidOutcome(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)

	_, err := f.svc.LogAttempt(context.Background(), item.ID, uuid.New(), AttemptInput{Outcome: "busy"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.attempts.attempts) != 0 {
		t.Error("no attempt should be recorded on validation failure")
	}
}

func TestLogAttempt_ClosedItem(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListCoach)
	item.Status = StatusClosed
	if err := f.items.Update(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.LogAttempt(context.Background(), item.ID, uuid.New(), AttemptInput{Outcome: OutcomeNoAnswer})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestLogAttempt_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.LogAttempt(context.Background(), uuid.New(), uuid.New(), AttemptInput{Outcome: OutcomeCompleted})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLogAttempt_AutoCloseAtThreshold(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)
	worker := uuid.New()

	for i := 0; i < AutoCloseThreshold-1; i++ {
		res, err := f.svc.LogAttempt(context.Background(), item.ID, worker, AttemptInput{Outcome: OutcomeNoAnswer})
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if res.AutoClosed {
			t.Fatalf("auto-closed after %d attempts", i+1)
		}
	}

	res, err := f.svc.LogAttempt(context.Background(), item.ID, worker, AttemptInput{Outcome: OutcomeLeftVoicemail})
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if !res.AutoClosed {
		t.Fatal("expected auto-close at threshold")
	}
	if res.Item.Status != StatusClosed {
		t.Errorf("status = %s, want closed", res.Item.Status)
	}
	if res.Item.CloseReason == nil || *res.Item.CloseReason != CloseAutomatic {
		t.Errorf("close reason = %v, want %s", res.Item.CloseReason, CloseAutomatic)
	}
	if res.Item.CooldownUntil == nil {
		t.Fatal("expected cooldown to be set")
	}
	wantCooldown := time.Now().Add(CooldownPeriod)
	if d := res.Item.CooldownUntil.Sub(wantCooldown); d < -time.Minute || d > time.Minute {
		t.Errorf("cooldown_until = %v, want about %v", res.Item.CooldownUntil, wantCooldown)
	}
}

func TestLogAttempt_SuccessfulOutcomesDoNotCount(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListCoach)
	worker := uuid.New()

	outcomes := []Outcome{
		OutcomeNoAnswer, OutcomeCompleted, OutcomeLeftVoicemail,
		OutcomeRequestedCallback, OutcomeSentMaterials, OutcomeEmailSent,
	}
	for _, o := range outcomes {
		res, err := f.svc.LogAttempt(context.Background(), item.ID, worker, AttemptInput{Outcome: o})
		if err != nil {
			t.Fatalf("outcome %s: %v", o, err)
		}
		if res.AutoClosed {
			t.Fatalf("auto-closed with only 2 unsuccessful attempts (at %s)", o)
		}
	}
}

func TestLogAttempt_FollowUpDaysSetsItemDate(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)
	days := 7

	res, err := f.svc.LogAttempt(context.Background(), item.ID, uuid.New(), AttemptInput{
		Outcome:        OutcomeRequestedCallback,
		FollowUpNeeded: true,
		FollowUpDays:   &days,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempt.FollowUpDate == nil || res.Item.FollowUpDate == nil {
		t.Fatal("expected follow-up date on attempt and item")
	}
	want := time.Now().AddDate(0, 0, days)
	if d := res.Item.FollowUpDate.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("follow_up_date = %v, want about %v", res.Item.FollowUpDate, want)
	}
}

func TestCloseItem_Manual(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNoReading)
	worker := uuid.New()

	closed, err := f.svc.CloseItem(context.Background(), item.ID, worker, CloseResolved, "reached by phone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.Status != StatusClosed {
		t.Errorf("status = %s, want closed", closed.Status)
	}
	if closed.CloseReason == nil || *closed.CloseReason != CloseResolved {
		t.Errorf("reason = %v", closed.CloseReason)
	}
	if closed.CloseNote == nil || *closed.CloseNote != "reached by phone" {
		t.Errorf("note = %v", closed.CloseNote)
	}
	if closed.ClosedBy == nil || *closed.ClosedBy != worker {
		t.Errorf("closed_by = %v", closed.ClosedBy)
	}
	if closed.CooldownUntil != nil {
		t.Error("manual close must not set a cooldown")
	}
}

func TestCloseItem_InvalidReason(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)

	for _, reason := range []CloseReason{"", "done", CloseAutomatic} {
		if _, err := f.svc.CloseItem(context.Background(), item.ID, uuid.New(), reason, ""); !IsValidation(err) {
			t.Errorf("reason %q: expected validation error, got %v", reason, err)
		}
	}
}

func TestCloseItem_AlreadyClosed(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)
	if _, err := f.svc.CloseItem(context.Background(), item.ID, uuid.New(), CloseResolved, ""); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.CloseItem(context.Background(), item.ID, uuid.New(), CloseNotNeeded, "")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestScheduleFollowUp(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListCoach)

	date := time.Now().AddDate(0, 0, 10)
	updated, err := f.svc.ScheduleFollowUp(context.Background(), item.ID, &date, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.FollowUpDate == nil || !updated.FollowUpDate.Equal(date) {
		t.Errorf("follow_up_date = %v, want %v", updated.FollowUpDate, date)
	}

	if _, err := f.svc.ScheduleFollowUp(context.Background(), item.ID, nil, nil); !IsValidation(err) {
		t.Errorf("expected validation error without date or days, got %v", err)
	}
}

func TestListItems_EnrichmentAndOrdering(t *testing.T) {
	f := newFixture()
	p1, p2 := uuid.New(), uuid.New()
	f.patients.summaries[p1] = PatientSummary{ID: p1, FirstName: "Ada", LastName: "Nguyen", Email: "ada@example.com"}
	f.patients.summaries[p2] = PatientSummary{ID: p2, FirstName: "Ben", LastName: "Ortiz"}

	now := time.Now()
	f.readings.readings[p1] = []VitalReading{
		{Systolic: 152, Diastolic: 92, ReadingDate: now.AddDate(0, 0, -1)},
		{Systolic: 149, Diastolic: 90, ReadingDate: now.AddDate(0, 0, -20)},
	}

	low := f.openItem(t, p2, ListNoReading)
	low.Priority = PriorityLow
	if err := f.items.Update(context.Background(), low); err != nil {
		t.Fatal(err)
	}
	high := f.openItem(t, p1, ListNurse)

	longNote := strings.Repeat("x", 200)
	if _, err := f.svc.LogAttempt(context.Background(), high.ID, uuid.New(), AttemptInput{
		Outcome: OutcomeLeftVoicemail,
		Notes:   longNote,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.ListItems(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalCount != 2 {
		t.Fatalf("total = %d, want 2", res.TotalCount)
	}
	if res.Items[0].ID != high.ID {
		t.Error("high priority item should sort first")
	}
	if res.Summary[ListNurse] != 1 || res.Summary[ListNoReading] != 1 {
		t.Errorf("summary = %v", res.Summary)
	}

	got := res.Items[0]
	if got.Patient == nil || got.Patient.FirstName != "Ada" {
		t.Errorf("patient = %+v", got.Patient)
	}
	if got.Avg7Day == nil || got.Avg7Day.Systolic != 152 {
		t.Errorf("avg_7_day = %+v", got.Avg7Day)
	}
	if got.Avg30Day == nil || got.Avg30Day.Count != 2 {
		t.Errorf("avg_30_day = %+v", got.Avg30Day)
	}
	if got.LatestReading == nil || got.LatestReading.Systolic != 152 {
		t.Errorf("latest_reading = %+v", got.LatestReading)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt_count = %d", got.AttemptCount)
	}
	if got.LastAttempt == nil {
		t.Fatal("expected last attempt")
	}
	if len(got.LastAttempt.Note) != NoteTruncateLen+3 || !strings.HasSuffix(got.LastAttempt.Note, "...") {
		t.Errorf("note not truncated: %d chars", len(got.LastAttempt.Note))
	}
}

func TestListItems_FilterByListType(t *testing.T) {
	f := newFixture()
	f.openItem(t, uuid.New(), ListNurse)
	f.openItem(t, uuid.New(), ListCoach)

	lt := ListCoach
	res, err := f.svc.ListItems(context.Background(), &lt, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalCount != 1 || res.Items[0].ListType != ListCoach {
		t.Errorf("got %d items", res.TotalCount)
	}

	bad := ListType("vip")
	if _, err := f.svc.ListItems(context.Background(), &bad, ""); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListItems_StatusFilter(t *testing.T) {
	f := newFixture()
	open := f.openItem(t, uuid.New(), ListNurse)
	closed := f.openItem(t, uuid.New(), ListCoach)
	if _, err := f.svc.CloseItem(context.Background(), closed.ID, uuid.New(), CloseResolved, ""); err != nil {
		t.Fatal(err)
	}

	// Default is the open list.
	res, err := f.svc.ListItems(context.Background(), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 1 || res.Items[0].ID != open.ID {
		t.Errorf("default list: total = %d", res.TotalCount)
	}

	res, err = f.svc.ListItems(context.Background(), nil, string(StatusClosed))
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 1 || res.Items[0].ID != closed.ID {
		t.Errorf("closed list: total = %d", res.TotalCount)
	}

	res, err = f.svc.ListItems(context.Background(), nil, StatusAll)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 2 {
		t.Errorf("all list: total = %d, want 2", res.TotalCount)
	}

	if _, err := f.svc.ListItems(context.Background(), nil, "archived"); !IsValidation(err) {
		t.Errorf("expected validation error for bad status, got %v", err)
	}
}

func TestReports_EnrichesAndSummarizes(t *testing.T) {
	f := newFixture()
	p1 := uuid.New()
	f.patients.summaries[p1] = PatientSummary{ID: p1, FirstName: "Ada", LastName: "Nguyen"}
	item := f.openItem(t, p1, ListNurse)
	worker := uuid.New()

	for _, o := range []Outcome{OutcomeCompleted, OutcomeNoAnswer} {
		if _, err := f.svc.LogAttempt(context.Background(), item.ID, worker, AttemptInput{Outcome: o}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := f.svc.Reports(context.Background(), ReportFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalCount != 2 {
		t.Fatalf("total = %d, want 2", res.TotalCount)
	}
	if res.Attempts[0].PatientName != "Ada Nguyen" {
		t.Errorf("patient_name = %q", res.Attempts[0].PatientName)
	}
	if res.Summary.TotalAll != 2 || res.Summary.ByOutcome[OutcomeCompleted] != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}
	// The full taxonomy is present even at zero.
	if _, ok := res.Summary.ByOutcome[OutcomeRefused]; !ok {
		t.Error("expected zero-count outcomes in summary")
	}

	o := OutcomeNoAnswer
	res, err = f.svc.Reports(context.Background(), ReportFilter{Outcome: &o})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 1 || res.Attempts[0].Outcome != OutcomeNoAnswer {
		t.Errorf("filtered total = %d", res.TotalCount)
	}
}

func TestSendEmail_LogsAttemptOnFailure(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)
	f.svc.email = failingSender{}

	res, err := f.svc.SendEmail(context.Background(), item.ID, uuid.New(), EmailInput{
		To: "pt@example.com", Subject: "Check in", Body: "Please call us back.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EmailSent {
		t.Error("expected email_sent=false")
	}
	if res.EmailError == "" {
		t.Error("expected an email error message")
	}
	if res.Attempt == nil || res.Attempt.Outcome != OutcomeEmailSent {
		t.Fatalf("attempt = %+v", res.Attempt)
	}
	if !strings.Contains(res.Attempt.Notes, "pt@example.com") {
		t.Errorf("notes = %q", res.Attempt.Notes)
	}
}

func TestSendEmail_ClosedItem(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)
	if _, err := f.svc.CloseItem(context.Background(), item.ID, uuid.New(), CloseResolved, ""); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.SendEmail(context.Background(), item.ID, uuid.New(), EmailInput{
		To: "pt@example.com", Subject: "Check in", Body: "Please call us back.",
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(f.attempts.attempts) != 0 {
		t.Error("no attempt should be logged against a closed item")
	}
}

func TestSendEmail_RequiresFields(t *testing.T) {
	f := newFixture()
	item := f.openItem(t, uuid.New(), ListNurse)

	_, err := f.svc.SendEmail(context.Background(), item.ID, uuid.New(), EmailInput{To: "pt@example.com"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.attempts.attempts) != 0 {
		t.Error("no attempt should be logged on validation failure")
	}
}

type failingSender struct{}

func (failingSender) SendEmail(context.Context, string, string, string) error {
	return errors.New("smtp unavailable")
}
