package triage

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

type mockItemRepo struct {
	items map[uuid.UUID]*Item
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{items: make(map[uuid.UUID]*Item)}
}

func (m *mockItemRepo) Create(_ context.Context, item *Item) error {
	for _, it := range m.items {
		if it.PatientID == item.PatientID && it.ListType == item.ListType && it.Status == StatusOpen {
			return ErrConflict
		}
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockItemRepo) GetByID(_ context.Context, id uuid.UUID) (*Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *mockItemRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	return m.GetByID(ctx, id)
}

func (m *mockItemRepo) GetOpenByPatientAndList(_ context.Context, patientID uuid.UUID, listType ListType) (*Item, error) {
	for _, it := range m.items {
		if it.PatientID == patientID && it.ListType == listType && it.Status == StatusOpen {
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockItemRepo) GetLatestByPatientAndList(_ context.Context, patientID uuid.UUID, listType ListType) (*Item, error) {
	var latest *Item
	for _, it := range m.items {
		if it.PatientID != patientID || it.ListType != listType {
			continue
		}
		if latest == nil || it.CreatedAt.After(latest.CreatedAt) {
			latest = it
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockItemRepo) Update(_ context.Context, item *Item) error {
	if _, ok := m.items[item.ID]; !ok {
		return ErrNotFound
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockItemRepo) List(_ context.Context, listType *ListType, status *Status) ([]*Item, error) {
	var out []*Item
	for _, it := range m.items {
		if status != nil && it.Status != *status {
			continue
		}
		if listType != nil && it.ListType != *listType {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockItemRepo) CountOpenByList(_ context.Context) (map[ListType]int, error) {
	counts := make(map[ListType]int)
	for _, it := range m.items {
		if it.Status == StatusOpen {
			counts[it.ListType]++
		}
	}
	return counts, nil
}

type mockAttemptRepo struct {
	attempts []*Attempt
}

func (m *mockAttemptRepo) Create(_ context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *mockAttemptRepo) CountUnsuccessful(_ context.Context, itemID uuid.UUID) (int, error) {
	n := 0
	for _, a := range m.attempts {
		if a.ItemID == itemID && a.Outcome.CountsTowardAutoClose() {
			n++
		}
	}
	return n, nil
}

func (m *mockAttemptRepo) ListByItem(_ context.Context, itemID uuid.UUID) ([]*Attempt, error) {
	var out []*Attempt
	for _, a := range m.attempts {
		if a.ItemID == itemID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockAttemptRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Attempt, int, error) {
	var all []*Attempt
	for _, a := range m.attempts {
		if a.PatientID == patientID {
			cp := *a
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockAttemptRepo) LastByItems(_ context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*Attempt, error) {
	want := make(map[uuid.UUID]bool, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = true
	}
	last := make(map[uuid.UUID]*Attempt)
	for _, a := range m.attempts {
		if !want[a.ItemID] {
			continue
		}
		if prev, ok := last[a.ItemID]; !ok || a.CreatedAt.After(prev.CreatedAt) {
			cp := *a
			last[a.ItemID] = &cp
		}
	}
	return last, nil
}

func (m *mockAttemptRepo) CountByItems(_ context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	want := make(map[uuid.UUID]bool, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = true
	}
	counts := make(map[uuid.UUID]int)
	for _, a := range m.attempts {
		if want[a.ItemID] {
			counts[a.ItemID]++
		}
	}
	return counts, nil
}

func (m *mockAttemptRepo) ListForReport(_ context.Context, f ReportFilter) ([]*ReportRow, error) {
	var out []*ReportRow
	for _, a := range m.attempts {
		if f.From != nil && a.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.CreatedAt.Before(*f.To) {
			continue
		}
		if f.CaseWorkerID != nil && a.CaseWorkerID != *f.CaseWorkerID {
			continue
		}
		if f.Outcome != nil && a.Outcome != *f.Outcome {
			continue
		}
		out = append(out, &ReportRow{Attempt: *a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockAttemptRepo) Stats(_ context.Context, since time.Time) (*ReportStats, error) {
	stats := &ReportStats{ByOutcome: make(map[Outcome]int)}
	for _, o := range Outcomes {
		stats.ByOutcome[o] = 0
	}
	for _, a := range m.attempts {
		stats.TotalAll++
		if !a.CreatedAt.Before(since) {
			stats.TotalWeek++
		}
		stats.ByOutcome[a.Outcome]++
	}
	return stats, nil
}

type mockPatientSource struct {
	active    []uuid.UUID
	summaries map[uuid.UUID]PatientSummary
}

func (m *mockPatientSource) ActiveIDs(context.Context) ([]uuid.UUID, error) {
	return m.active, nil
}

func (m *mockPatientSource) Summaries(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]PatientSummary, error) {
	out := make(map[uuid.UUID]PatientSummary)
	for _, id := range ids {
		if s, ok := m.summaries[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type mockReadingSource struct {
	readings map[uuid.UUID][]VitalReading
}

func (m *mockReadingSource) ReadingsSince(_ context.Context, since time.Time) (map[uuid.UUID][]VitalReading, error) {
	out := make(map[uuid.UUID][]VitalReading)
	for pid, rs := range m.readings {
		for _, r := range rs {
			if !r.ReadingDate.Before(since) {
				out[pid] = append(out[pid], r)
			}
		}
	}
	return out, nil
}

func (m *mockReadingSource) LatestReadingTimes(context.Context) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time)
	for pid, rs := range m.readings {
		for _, r := range rs {
			if t, ok := out[pid]; !ok || r.ReadingDate.After(t) {
				out[pid] = r.ReadingDate
			}
		}
	}
	return out, nil
}

func (m *mockReadingSource) ReadingsForPatients(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID][]VitalReading, error) {
	all, err := m.ReadingsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]VitalReading)
	for _, id := range ids {
		if rs, ok := all[id]; ok {
			out[id] = rs
		}
	}
	return out, nil
}

func (m *mockReadingSource) LatestReadings(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]VitalReading, error) {
	out := make(map[uuid.UUID]VitalReading)
	for _, id := range ids {
		for _, r := range m.readings[id] {
			if prev, ok := out[id]; !ok || r.ReadingDate.After(prev.ReadingDate) {
				out[id] = r
			}
		}
	}
	return out, nil
}

// passTx runs the function directly, without a real transaction.
type passTx struct{}

func (passTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
