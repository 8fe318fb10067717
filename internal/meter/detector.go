package meter

import (
	"time"

	"github.com/google/uuid"
)

type AnomalyKind string

const (
	KindCounterReset      AnomalyKind = "counter_reset"
	KindValidationFailure AnomalyKind = "validation_failure"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// DefaultResetDropRatio flags a reset when the counter falls below half of
// its previous value. It is a heuristic, not a physical bound.
const DefaultResetDropRatio = 0.5

// Anomaly is emitted for counter resets and rejected readings. It is never
// retained by the engine.
type Anomaly struct {
	ID        string      `json:"id"`
	Kind      AnomalyKind `json:"kind"`
	Severity  Severity    `json:"severity"`
	OldValue  float64     `json:"old_energy"`
	NewValue  float64     `json:"new_energy"`
	DropRatio float64     `json:"energy_drop_ratio"`
	Reasons   []string    `json:"reasons,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Detector struct {
	dropRatio float64
}

// NewDetector returns a Detector using dropRatio, or the default when
// dropRatio is outside (0,1).
func NewDetector(dropRatio float64) *Detector {
	if !(dropRatio > 0 && dropRatio < 1) {
		dropRatio = DefaultResetDropRatio
	}
	return &Detector{dropRatio: dropRatio}
}

func (d *Detector) DropRatio() float64 { return d.dropRatio }

// CheckForReset returns a counter_reset anomaly when next fell below the
// drop ratio of previous, or nil.
func (d *Detector) CheckForReset(previous, next float64, at time.Time) *Anomaly {
	if !(next < previous*d.dropRatio) {
		return nil
	}

	ratio := 0.0
	if previous != 0 {
		ratio = next / previous
	}

	return &Anomaly{
		ID:        uuid.NewString(),
		Kind:      KindCounterReset,
		Severity:  SeverityCritical,
		OldValue:  previous,
		NewValue:  next,
		DropRatio: ratio,
		Timestamp: at,
	}
}

// ValidationFailure builds the anomaly for a rejected reading.
func ValidationFailure(previous float64, r Reading, verdict Verdict, at time.Time) *Anomaly {
	return &Anomaly{
		ID:        uuid.NewString(),
		Kind:      KindValidationFailure,
		Severity:  SeverityWarning,
		OldValue:  previous,
		NewValue:  r.Energy,
		Reasons:   verdict.Rejections,
		Timestamp: at,
	}
}
