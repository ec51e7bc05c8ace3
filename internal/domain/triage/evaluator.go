package triage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Evaluator runs the batch triage pass: it classifies every active patient
// and reconciles the outreach lists against the verdicts.
type Evaluator struct {
	items    ItemRepository
	patients PatientSource
	readings ReadingSource
	tx       TxRunner
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewEvaluator(items ItemRepository, patients PatientSource, readings ReadingSource, tx TxRunner, metrics *Metrics, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		items:    items,
		patients: patients,
		readings: readings,
		tx:       tx,
		metrics:  metrics,
		log:      log.With().Str("component", "triage_evaluator").Logger(),
		now:      time.Now,
	}
}

// PassResult summarizes one triage pass.
type PassResult struct {
	PatientsEvaluated int `json:"patients_evaluated"`
	ItemsCreated      int `json:"items_created"`
	ItemsUpdated      int `json:"items_updated"`
	SkippedCooldown   int `json:"skipped_cooldown"`
	SkippedErrors     int `json:"skipped_errors"`
}

// RunPass evaluates all active patients in one transaction. The pass is
// idempotent: re-running it without new readings changes nothing. A conflict
// from a concurrent pass is retried once.
func (e *Evaluator) RunPass(ctx context.Context) (*PassResult, error) {
	start := e.now()
	res, err := e.runOnce(ctx)
	if errors.Is(err, ErrConflict) {
		e.log.Warn().Msg("triage pass hit a write conflict, retrying")
		res, err = e.runOnce(ctx)
	}
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.PassesTotal.Inc()
		e.metrics.PassDuration.Observe(time.Since(start).Seconds())
	}
	e.log.Info().
		Int("patients", res.PatientsEvaluated).
		Int("created", res.ItemsCreated).
		Int("updated", res.ItemsUpdated).
		Int("skipped_cooldown", res.SkippedCooldown).
		Int("skipped_errors", res.SkippedErrors).
		Dur("elapsed", time.Since(start)).
		Msg("triage pass complete")
	return res, nil
}

func (e *Evaluator) runOnce(ctx context.Context) (*PassResult, error) {
	res := &PassResult{}
	err := e.tx.RunInTx(ctx, func(ctx context.Context) error {
		asOf := e.now()

		patientIDs, err := e.patients.ActiveIDs(ctx)
		if err != nil {
			return err
		}
		recent, err := e.readings.ReadingsSince(ctx, asOf.AddDate(0, 0, -7))
		if err != nil {
			return err
		}
		latest, err := e.readings.LatestReadingTimes(ctx)
		if err != nil {
			return err
		}

		for _, pid := range patientIDs {
			res.PatientsEvaluated++

			summary := VitalSummary{}
			if rs := recent[pid]; len(rs) > 0 {
				sys := make([]int, len(rs))
				dia := make([]int, len(rs))
				for i, r := range rs {
					sys[i], dia[i] = r.Systolic, r.Diastolic
				}
				summary.Avg7Systolic, summary.Avg7Diastolic = AverageBP(sys, dia)
			}
			if t, ok := latest[pid]; ok {
				lt := t
				summary.LastReadingAt = &lt
			}

			decision := Classify(summary, asOf)
			if decision == nil {
				continue
			}

			if err := e.apply(ctx, pid, decision, asOf, res); err != nil {
				if errors.Is(err, ErrConflict) {
					return err
				}
				e.log.Warn().Err(err).
					Str("patient_id", pid.String()).
					Str("list_type", string(decision.ListType)).
					Msg("skipping patient after triage error")
				res.SkippedErrors++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// apply reconciles one classification verdict with storage. Existing open
// items are refreshed in place so repeat passes stay idempotent.
func (e *Evaluator) apply(ctx context.Context, pid uuid.UUID, d *Decision, asOf time.Time, res *PassResult) error {
	title, detail := d.Reason.Title(), d.Reason.Detail()
	existing, err := e.items.GetOpenByPatientAndList(ctx, pid, d.ListType)
	switch {
	case err == nil:
		if existing.Priority == d.Priority &&
			existing.PriorityTitle == title &&
			existing.PriorityDetail == detail {
			return nil
		}
		existing.Priority = d.Priority
		existing.PriorityTitle = title
		existing.PriorityDetail = detail
		if err := e.items.Update(ctx, existing); err != nil {
			return err
		}
		res.ItemsUpdated++
		return nil
	case !errors.Is(err, ErrNotFound):
		return err
	}

	last, err := e.items.GetLatestByPatientAndList(ctx, pid, d.ListType)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if last != nil && last.CooldownUntil != nil && last.CooldownUntil.After(asOf) {
		res.SkippedCooldown++
		return nil
	}

	item := &Item{
		PatientID:      pid,
		ListType:       d.ListType,
		Status:         StatusOpen,
		Priority:       d.Priority,
		PriorityTitle:  title,
		PriorityDetail: detail,
	}
	if err := e.items.Create(ctx, item); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.ItemsCreatedTotal.WithLabelValues(string(d.ListType)).Inc()
	}
	res.ItemsCreated++
	return nil
}
