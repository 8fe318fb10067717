// Package billing converts energy quantities into tiered, VAT-inclusive cost.
package billing

import (
	"math"

	"codeberg.org/mutker/pzemd/internal/errors"
)

const (
	ErrNoTiers          = errors.ErrorCode("billing_no_tiers")
	ErrInvalidTierWidth = errors.ErrorCode("billing_invalid_tier_width")
	ErrBoundedLastTier  = errors.ErrorCode("billing_bounded_last_tier")
	ErrNegativePrice    = errors.ErrorCode("billing_negative_price")
	ErrInvalidVATRate   = errors.ErrorCode("billing_invalid_vat_rate")
)

// Unbounded is the width of the final tier.
var Unbounded = math.Inf(1)

// Tier is one step of the price ladder: the next Width kWh cost Price each.
type Tier struct {
	Width float64
	Price float64
}

// TierCharge is the share of a quantity that fell into one tier.
type TierCharge struct {
	Index     int     `json:"tier"`
	UsedKWh   float64 `json:"used_kwh"`
	UnitPrice float64 `json:"unit_price"`
	Cost      float64 `json:"cost"`
}

// CostBreakdown is the priced result for a quantity of energy. Monetary
// fields are whole currency units and Total is always Subtotal + VAT.
type CostBreakdown struct {
	KWh      float64      `json:"kwh"`
	Subtotal int64        `json:"subtotal"`
	VAT      int64        `json:"vat"`
	Total    int64        `json:"total"`
	Tiers    []TierCharge `json:"tiers"`
}

// Schedule is an immutable tier ladder plus VAT rate.
type Schedule struct {
	tiers   []Tier
	vatRate float64
}

// NewSchedule validates the tiers and VAT rate. A last tier width of 0 is
// read as unbounded.
func NewSchedule(tiers []Tier, vatRate float64) (*Schedule, error) {
	errFactory := errors.New()

	if len(tiers) == 0 {
		return nil, errFactory.New(ErrNoTiers)
	}
	if vatRate < 0 || math.IsNaN(vatRate) || math.IsInf(vatRate, 0) {
		return nil, errFactory.WithData(ErrInvalidVATRate, vatRate)
	}

	normalized := make([]Tier, len(tiers))
	for i, tier := range tiers {
		last := i == len(tiers)-1

		if tier.Price < 0 || math.IsNaN(tier.Price) || math.IsInf(tier.Price, 0) {
			return nil, errFactory.WithData(ErrNegativePrice, struct {
				Tier  int
				Price float64
			}{i, tier.Price})
		}

		if last {
			if tier.Width != 0 && !math.IsInf(tier.Width, 1) {
				return nil, errFactory.WithData(ErrBoundedLastTier, tier.Width)
			}
			tier.Width = Unbounded
		} else if !(tier.Width > 0) || math.IsInf(tier.Width, 1) {
			return nil, errFactory.WithData(ErrInvalidTierWidth, struct {
				Tier  int
				Width float64
			}{i, tier.Width})
		}

		normalized[i] = tier
	}

	return &Schedule{tiers: normalized, vatRate: vatRate}, nil
}

// Tiers returns a copy of the ladder.
func (s *Schedule) Tiers() []Tier {
	out := make([]Tier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

func (s *Schedule) VATRate() float64 { return s.vatRate }

// ComputeCost prices kwh against the ladder. Negative and NaN input is
// treated as zero. Rounding is applied once, after all tiers are summed.
func (s *Schedule) ComputeCost(kwh float64) CostBreakdown {
	if !(kwh > 0) {
		kwh = 0
	}

	remaining := kwh
	subtotal := 0.0
	charges := make([]TierCharge, 0, len(s.tiers))

	for i, tier := range s.tiers {
		used := math.Min(remaining, tier.Width)
		cost := used * tier.Price
		if used > 0 {
			charges = append(charges, TierCharge{
				Index:     i,
				UsedKWh:   used,
				UnitPrice: tier.Price,
				Cost:      cost,
			})
		}
		subtotal += cost
		remaining -= used
		if remaining <= 0 {
			break
		}
	}

	roundedSubtotal := roundMoney(subtotal)
	vat := roundMoney(subtotal * s.vatRate)

	return CostBreakdown{
		KWh:      kwh,
		Subtotal: roundedSubtotal,
		VAT:      vat,
		Total:    roundedSubtotal + vat,
		Tiers:    charges,
	}
}

func roundMoney(v float64) int64 {
	return int64(math.RoundToEven(v))
}
