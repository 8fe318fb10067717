package meter_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/pzemd/internal/meter"
	"github.com/stretchr/testify/assert"
)

func plausible() meter.Reading {
	return meter.Reading{
		Voltage:     230,
		Current:     2,
		Power:       414,
		Energy:      120.25,
		Frequency:   50,
		PowerFactor: 0.9,
	}
}

func TestValidateHardRejects(t *testing.T) {
	v := meter.NewValidator(meter.DefaultThresholds(), nil)

	tests := []struct {
		name   string
		mutate func(*meter.Reading)
	}{
		{"negative voltage", func(r *meter.Reading) { r.Voltage = -1 }},
		{"negative current", func(r *meter.Reading) { r.Current = -0.1 }},
		{"negative energy", func(r *meter.Reading) { r.Energy = -3 }},
		{"pf above one", func(r *meter.Reading) { r.PowerFactor = 1.5 }},
		{"pf below zero", func(r *meter.Reading) { r.PowerFactor = -0.2 }},
		{"nan energy", func(r *meter.Reading) { r.Energy = math.NaN() }},
		{"infinite power", func(r *meter.Reading) { r.Power = math.Inf(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := plausible()
			tt.mutate(&r)
			verdict := v.Validate(r, nil)
			assert.False(t, verdict.Valid())
			assert.NotEmpty(t, verdict.Rejections)
		})
	}
}

func TestValidateSoftWarnings(t *testing.T) {
	v := meter.NewValidator(meter.DefaultThresholds(), nil)

	tests := []struct {
		name   string
		mutate func(*meter.Reading)
	}{
		{"high voltage", func(r *meter.Reading) { r.Voltage = 310; r.Power = 310 * 2 * 0.9 }},
		{"negative power", func(r *meter.Reading) { r.Power = -5 }},
		{"power above limit", func(r *meter.Reading) { r.Power = 15000 }},
		{"frequency low", func(r *meter.Reading) { r.Frequency = 40 }},
		{"frequency high", func(r *meter.Reading) { r.Frequency = 60 }},
		{"cross check mismatch", func(r *meter.Reading) { r.Power = 200 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := plausible()
			tt.mutate(&r)
			verdict := v.Validate(r, nil)
			assert.True(t, verdict.Valid())
			assert.NotEmpty(t, verdict.Warnings)
		})
	}
}

func TestValidateClean(t *testing.T) {
	v := meter.NewValidator(meter.DefaultThresholds(), nil)
	prev := 120.2

	verdict := v.Validate(plausible(), &prev)
	assert.True(t, verdict.Valid())
	assert.Empty(t, verdict.Warnings)
}

func TestValidateZeroFrequencyIsNotWarned(t *testing.T) {
	v := meter.NewValidator(meter.DefaultThresholds(), nil)

	r := meter.Reading{Energy: 10}
	verdict := v.Validate(r, nil)
	assert.True(t, verdict.Valid())
	assert.Empty(t, verdict.Warnings)
}

func TestValidateEnergyStepIsConfigurable(t *testing.T) {
	prev := 100.0
	r := plausible()
	r.Energy = 101.5

	strict := meter.NewValidator(meter.DefaultThresholds(), nil)
	verdict := strict.Validate(r, &prev)
	assert.True(t, verdict.Valid())
	assert.Len(t, verdict.Warnings, 1)

	th := meter.DefaultThresholds()
	th.MaxEnergyStep = 2
	relaxed := meter.NewValidator(th, nil)
	assert.Empty(t, relaxed.Validate(r, &prev).Warnings)
}
