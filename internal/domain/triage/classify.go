package triage

import (
	"fmt"
	"math"
	"time"
)

// Blood pressure thresholds in mmHg, applied to rounded 7-day averages.
const (
	NurseSystolicMin  = 150
	NurseDiastolicMin = 86

	CoachSystolicMin  = 135
	CoachSystolicMax  = 149
	CoachDiastolicMin = 80
	CoachDiastolicMax = 87

	// StaleReadingDays is how long a patient may go without submitting a
	// reading before landing on the no-reading list.
	StaleReadingDays = 30
)

// VitalSummary is the per-patient input to classification. Avg7Systolic and
// Avg7Diastolic are nil when the patient has no readings in the 7-day window.
type VitalSummary struct {
	Avg7Systolic  *int
	Avg7Diastolic *int
	LastReadingAt *time.Time
}

// ReasonKind tags which rule placed the patient on a list.
type ReasonKind string

const (
	ReasonSystolicHigh  ReasonKind = "systolic_high"
	ReasonDiastolicHigh ReasonKind = "diastolic_high"
	ReasonCoachRange    ReasonKind = "coach_range"
	ReasonNeverReported ReasonKind = "never_reported"
	ReasonStaleReading  ReasonKind = "stale_reading"
)

// Reason is the structured rationale behind a classification. The strings
// shown to case workers derive from it rather than being assembled at the
// call sites.
type Reason struct {
	Kind ReasonKind

	// Set for the BP-driven kinds.
	AvgSystolic  int
	AvgDiastolic int

	// Set for ReasonStaleReading.
	DaysSinceReading int
	LastReadingAt    time.Time
}

// Title is the list heading for the reason.
func (r Reason) Title() string {
	switch r.Kind {
	case ReasonSystolicHigh, ReasonDiastolicHigh:
		return "Elevated BP — Nurse Review"
	case ReasonCoachRange:
		return "Elevated BP — HTN Coach"
	}
	return "No Recent Readings"
}

// Detail is the one-line explanation shown under the title.
func (r Reason) Detail() string {
	switch r.Kind {
	case ReasonSystolicHigh:
		return fmt.Sprintf("7-day avg: %d/%d (systolic >= %d)", r.AvgSystolic, r.AvgDiastolic, NurseSystolicMin)
	case ReasonDiastolicHigh:
		return fmt.Sprintf("7-day avg: %d/%d (diastolic >= %d)", r.AvgSystolic, r.AvgDiastolic, NurseDiastolicMin)
	case ReasonCoachRange:
		return fmt.Sprintf("7-day avg: %d/%d", r.AvgSystolic, r.AvgDiastolic)
	case ReasonStaleReading:
		return fmt.Sprintf("Last reading: %d days ago (%s)", r.DaysSinceReading, r.LastReadingAt.Format("Jan 02, 2006"))
	}
	return "No readings ever submitted"
}

// Decision is the classifier's verdict for one patient.
type Decision struct {
	ListType ListType
	Priority Priority
	Reason   Reason
}

// Classify evaluates one patient's vitals against the outreach criteria and
// returns the single list the patient belongs on, or nil when no outreach is
// indicated. Nurse review wins over coach; the no-reading list is strictly a
// fallback for patients with no recent 7-day average.
func Classify(v VitalSummary, asOf time.Time) *Decision {
	if v.Avg7Systolic != nil && v.Avg7Diastolic != nil {
		sys, dia := *v.Avg7Systolic, *v.Avg7Diastolic

		if sys >= NurseSystolicMin || dia >= NurseDiastolicMin {
			kind := ReasonDiastolicHigh
			if sys >= NurseSystolicMin {
				kind = ReasonSystolicHigh
			}
			return &Decision{
				ListType: ListNurse,
				Priority: PriorityHigh,
				Reason:   Reason{Kind: kind, AvgSystolic: sys, AvgDiastolic: dia},
			}
		}

		if (CoachSystolicMin <= sys && sys <= CoachSystolicMax) ||
			(CoachDiastolicMin <= dia && dia <= CoachDiastolicMax) {
			return &Decision{
				ListType: ListCoach,
				Priority: PriorityMedium,
				Reason:   Reason{Kind: ReasonCoachRange, AvgSystolic: sys, AvgDiastolic: dia},
			}
		}

		// In-range average in the window, no outreach needed.
		return nil
	}

	if v.LastReadingAt == nil {
		return &Decision{
			ListType: ListNoReading,
			Priority: PriorityLow,
			Reason:   Reason{Kind: ReasonNeverReported},
		}
	}

	if v.LastReadingAt.Before(asOf.AddDate(0, 0, -StaleReadingDays)) {
		return &Decision{
			ListType: ListNoReading,
			Priority: PriorityLow,
			Reason: Reason{
				Kind:             ReasonStaleReading,
				DaysSinceReading: int(asOf.Sub(*v.LastReadingAt).Hours() / 24),
				LastReadingAt:    *v.LastReadingAt,
			},
		}
	}

	return nil
}

// AverageBP computes rounded mean systolic and diastolic values. Returns
// nil pointers for an empty slice.
func AverageBP(systolic, diastolic []int) (*int, *int) {
	if len(systolic) == 0 || len(systolic) != len(diastolic) {
		return nil, nil
	}
	var sumSys, sumDia int
	for i := range systolic {
		sumSys += systolic[i]
		sumDia += diastolic[i]
	}
	n := float64(len(systolic))
	avgSys := int(math.Round(float64(sumSys) / n))
	avgDia := int(math.Round(float64(sumDia) / n))
	return &avgSys, &avgDia
}
