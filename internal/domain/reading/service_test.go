package reading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	readings []*Reading
}

func (m *mockRepo) Create(_ context.Context, rd *Reading) error {
	if rd.ID == uuid.Nil {
		rd.ID = uuid.New()
	}
	cp := *rd
	m.readings = append(m.readings, &cp)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Reading, error) {
	for _, rd := range m.readings {
		if rd.ID == id {
			cp := *rd
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	var out []*Reading
	for _, rd := range m.readings {
		if rd.PatientID == patientID {
			cp := *rd
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) CountByPatient(_ context.Context, patientID uuid.UUID) (int, error) {
	n := 0
	for _, rd := range m.readings {
		if rd.PatientID == patientID {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListSince(_ context.Context, since time.Time) (map[uuid.UUID][]*Reading, error) {
	out := make(map[uuid.UUID][]*Reading)
	for _, rd := range m.readings {
		if !rd.ReadingDate.Before(since) {
			cp := *rd
			out[rd.PatientID] = append(out[rd.PatientID], &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListForPatientsSince(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID][]*Reading, error) {
	all, _ := m.ListSince(ctx, since)
	out := make(map[uuid.UUID][]*Reading)
	for _, id := range ids {
		if rs, ok := all[id]; ok {
			out[id] = rs
		}
	}
	return out, nil
}

func (m *mockRepo) LatestPerPatient(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Reading, error) {
	out := make(map[uuid.UUID]*Reading)
	for _, id := range ids {
		for _, rd := range m.readings {
			if rd.PatientID != id {
				continue
			}
			if prev, ok := out[id]; !ok || rd.ReadingDate.After(prev.ReadingDate) {
				cp := *rd
				out[id] = &cp
			}
		}
	}
	return out, nil
}

func (m *mockRepo) LatestTimes(_ context.Context) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time)
	for _, rd := range m.readings {
		if t, ok := out[rd.PatientID]; !ok || rd.ReadingDate.After(t) {
			out[rd.PatientID] = rd.ReadingDate
		}
	}
	return out, nil
}

type mockActivator struct {
	activated []uuid.UUID
}

func (m *mockActivator) MarkActive(_ context.Context, id uuid.UUID) error {
	m.activated = append(m.activated, id)
	return nil
}

func TestCreate_Valid(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, nil, zerolog.Nop())

	rd := &Reading{PatientID: uuid.New(), Systolic: 128, Diastolic: 82}
	if err := svc.Create(context.Background(), rd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rd.ReadingDate.IsZero() {
		t.Error("expected reading_date to default to now")
	}
	if len(repo.readings) != 1 {
		t.Errorf("stored %d readings", len(repo.readings))
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(&mockRepo{}, nil, zerolog.Nop())
	hr := 300
	cases := []Reading{
		{Systolic: 120, Diastolic: 80},
		{PatientID: uuid.New(), Systolic: 30, Diastolic: 80},
		{PatientID: uuid.New(), Systolic: 120, Diastolic: 10},
		{PatientID: uuid.New(), Systolic: 120, Diastolic: 80, HeartRate: &hr},
		{PatientID: uuid.New(), Systolic: 120, Diastolic: 80, ReadingDate: time.Now().Add(48 * time.Hour)},
	}
	for i, rd := range cases {
		rc := rd
		if err := svc.Create(context.Background(), &rc); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCreate_FirstReadingActivatesPatient(t *testing.T) {
	repo := &mockRepo{}
	act := &mockActivator{}
	svc := NewService(repo, act, zerolog.Nop())
	pid := uuid.New()

	if err := svc.Create(context.Background(), &Reading{PatientID: pid, Systolic: 120, Diastolic: 80}); err != nil {
		t.Fatal(err)
	}
	if len(act.activated) != 1 || act.activated[0] != pid {
		t.Fatalf("activated = %v, want [%s]", act.activated, pid)
	}

	// Second reading does not re-activate.
	if err := svc.Create(context.Background(), &Reading{PatientID: pid, Systolic: 118, Diastolic: 78}); err != nil {
		t.Fatal(err)
	}
	if len(act.activated) != 1 {
		t.Errorf("activated %d times, want 1", len(act.activated))
	}
}
