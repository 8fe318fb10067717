package billing_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/pzemd/internal/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func residentialSchedule(t *testing.T) *billing.Schedule {
	t.Helper()
	s, err := billing.NewSchedule([]billing.Tier{
		{Width: 50, Price: 1984},
		{Width: 50, Price: 2050},
		{Width: 100, Price: 2380},
		{Width: 100, Price: 2998},
		{Width: 100, Price: 3350},
		{Width: billing.Unbounded, Price: 3460},
	}, 0.08)
	require.NoError(t, err)
	return s
}

func TestComputeCostTierBoundaries(t *testing.T) {
	s := residentialSchedule(t)

	tests := []struct {
		name     string
		kwh      float64
		subtotal int64
		tiers    int
	}{
		{"zero", 0, 0, 0},
		{"first tier full", 50, 99200, 1},
		{"two tiers full", 100, 99200 + 102500, 2},
		{"into last tier", 500, 50*1984 + 50*2050 + 100*2380 + 100*2998 + 100*3350 + 50*3460, 6},
		{"inside first tier", 2.5, 4960, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ComputeCost(tt.kwh)
			assert.Equal(t, tt.subtotal, got.Subtotal)
			assert.Len(t, got.Tiers, tt.tiers)
			assert.Equal(t, got.Subtotal+got.VAT, got.Total)
		})
	}
}

func TestComputeCostVAT(t *testing.T) {
	s := residentialSchedule(t)

	got := s.ComputeCost(50)
	assert.Equal(t, int64(7936), got.VAT)
	assert.Equal(t, int64(107136), got.Total)

	got = s.ComputeCost(2.5)
	assert.Equal(t, int64(397), got.VAT)
	assert.Equal(t, int64(5357), got.Total)
}

func TestComputeCostLastTierDetail(t *testing.T) {
	s := residentialSchedule(t)

	got := s.ComputeCost(500)
	last := got.Tiers[len(got.Tiers)-1]
	assert.Equal(t, 5, last.Index)
	assert.InDelta(t, 50, last.UsedKWh, 1e-9)
	assert.InDelta(t, 50*3460, last.Cost, 1e-6)
}

func TestComputeCostClampsInvalidInput(t *testing.T) {
	s := residentialSchedule(t)

	for _, kwh := range []float64{-5, math.NaN(), math.Inf(-1)} {
		got := s.ComputeCost(kwh)
		assert.Zero(t, got.KWh)
		assert.Zero(t, got.Total)
		assert.Empty(t, got.Tiers)
	}
}

func TestComputeCostMonotonic(t *testing.T) {
	s := residentialSchedule(t)

	prev := s.ComputeCost(0)
	for kwh := 0.1; kwh <= 700; kwh += 0.7 {
		got := s.ComputeCost(kwh)
		assert.GreaterOrEqual(t, got.Subtotal, prev.Subtotal, "kwh=%v", kwh)
		assert.Equal(t, got.Subtotal+got.VAT, got.Total, "kwh=%v", kwh)
		prev = got
	}
}

func TestNewScheduleValidation(t *testing.T) {
	_, err := billing.NewSchedule(nil, 0.08)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing_no_tiers")

	_, err = billing.NewSchedule([]billing.Tier{{Width: 50, Price: 1}, {Width: 10, Price: 2}}, 0.08)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing_bounded_last_tier")

	_, err = billing.NewSchedule([]billing.Tier{{Width: 0, Price: 1}, {Width: 0, Price: 2}}, 0.08)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing_invalid_tier_width")

	_, err = billing.NewSchedule([]billing.Tier{{Width: 0, Price: -1}}, 0.08)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing_negative_price")

	_, err = billing.NewSchedule([]billing.Tier{{Width: 0, Price: 1}}, -0.1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing_invalid_vat_rate")
}

func TestNewScheduleZeroWidthLastTierIsUnbounded(t *testing.T) {
	s, err := billing.NewSchedule([]billing.Tier{{Width: 10, Price: 100}, {Width: 0, Price: 200}}, 0)
	require.NoError(t, err)

	tiers := s.Tiers()
	assert.True(t, math.IsInf(tiers[1].Width, 1))
	assert.Equal(t, int64(10*100+990*200), s.ComputeCost(1000).Subtotal)
}
