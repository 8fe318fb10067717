package meter

import (
	"fmt"
	"math"

	"codeberg.org/mutker/pzemd/internal/logger"
)

// Thresholds bound what a plausible reading looks like. Crossing them only
// produces warnings; rejection is reserved for physically impossible values.
type Thresholds struct {
	MaxVoltage          float64
	MaxPower            float64
	MinFrequency        float64
	MaxFrequency        float64
	CrossCheckTolerance float64
	// MaxEnergyStep is the largest counter increase between two consecutive
	// readings. It depends on the sampling cadence.
	MaxEnergyStep float64
}

// DefaultThresholds suits a household supply sampled every ~5s.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxVoltage:          300,
		MaxPower:            10000,
		MinFrequency:        45,
		MaxFrequency:        55,
		CrossCheckTolerance: 0.2,
		MaxEnergyStep:       1,
	}
}

// Verdict is the outcome of validating one reading.
type Verdict struct {
	Rejections []string
	Warnings   []string
}

// Valid reports whether the reading can be trusted.
func (v Verdict) Valid() bool {
	return len(v.Rejections) == 0
}

type Validator struct {
	th  Thresholds
	log logger.Logger
}

func NewValidator(th Thresholds, log logger.Logger) *Validator {
	if log == nil {
		log = logger.With("validator")
	}
	return &Validator{th: th, log: log}
}

// Validate checks r for plausibility. previous is the last live counter
// value, or nil when there is none to compare against.
func (v *Validator) Validate(r Reading, previous *float64) Verdict {
	var verdict Verdict
	reject := func(format string, args ...any) {
		verdict.Rejections = append(verdict.Rejections, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf(format, args...))
	}

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"voltage", r.Voltage},
		{"current", r.Current},
		{"power", r.Power},
		{"energy", r.Energy},
		{"frequency", r.Frequency},
		{"pf", r.PowerFactor},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			reject("%s is not finite", f.name)
		}
	}
	if !verdict.Valid() {
		return verdict
	}

	if r.Energy < 0 {
		reject("negative energy %.3f kWh", r.Energy)
	}
	if r.Voltage < 0 {
		reject("negative voltage %.1f V", r.Voltage)
	}
	if r.Current < 0 {
		reject("negative current %.3f A", r.Current)
	}
	if r.PowerFactor < 0 || r.PowerFactor > 1 {
		reject("power factor %.2f outside [0,1]", r.PowerFactor)
	}
	if !verdict.Valid() {
		return verdict
	}

	if r.Voltage > v.th.MaxVoltage {
		warn("voltage %.1f V above %.0f V", r.Voltage, v.th.MaxVoltage)
	}
	if r.Power < 0 {
		warn("negative power %.1f W", r.Power)
	}
	if r.Power > v.th.MaxPower {
		warn("power %.1f W above %.0f W", r.Power, v.th.MaxPower)
	}
	if r.Frequency > 0 && (r.Frequency < v.th.MinFrequency || r.Frequency > v.th.MaxFrequency) {
		warn("frequency %.1f Hz outside [%.0f,%.0f]", r.Frequency, v.th.MinFrequency, v.th.MaxFrequency)
	}

	expected := r.Voltage * r.Current * r.PowerFactor
	denominator := math.Max(math.Max(r.Power, expected), 1)
	if mismatch := math.Abs(r.Power-expected) / denominator; mismatch > v.th.CrossCheckTolerance {
		warn("power %.1f W disagrees with V*I*PF %.1f W (%.0f%%)", r.Power, expected, mismatch*100)
	}

	if previous != nil && v.th.MaxEnergyStep > 0 {
		if step := r.Energy - *previous; step > v.th.MaxEnergyStep {
			warn("energy jumped %.3f kWh since last reading", step)
		}
	}

	for _, w := range verdict.Warnings {
		v.log.Warn().
			Float64("voltage", r.Voltage).
			Float64("current", r.Current).
			Float64("power", r.Power).
			Float64("energy", r.Energy).
			Msg(w)
	}

	return verdict
}
