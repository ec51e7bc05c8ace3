package reading

import (
	"time"

	"github.com/google/uuid"
)

// Plausibility bounds for submitted measurements, in mmHg and bpm.
const (
	SystolicMin  = 60
	SystolicMax  = 300
	DiastolicMin = 30
	DiastolicMax = 200
	HeartRateMin = 20
	HeartRateMax = 250
)

// Reading is one blood pressure measurement. Values are not direct
// identifiers; the patient linkage provides the PHI context.
type Reading struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Systolic    int       `json:"systolic"`
	Diastolic   int       `json:"diastolic"`
	HeartRate   *int      `json:"heart_rate,omitempty"`
	ReadingDate time.Time `json:"reading_date"`
	DeviceID    *string   `json:"device_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
