package billing

import "math"

// usageEpsilon absorbs float noise when two tier usages cancel out.
const usageEpsilon = 1e-9

// Split prices one billing month so that the current day's share and the
// share of all previous days add up exactly to the monthly total.
type Split struct {
	Monthly   CostBreakdown `json:"monthly"`
	Yesterday CostBreakdown `json:"previous_days"`
	Daily     CostBreakdown `json:"daily"`
}

// Split tiers the cumulative monthly quantity and derives the daily cost by
// subtraction. Tiers apply to monthly usage, so pricing dailyKWh on its own
// would charge today's energy at first-tier rates.
func (s *Schedule) Split(monthlyKWh, dailyKWh float64) Split {
	monthly := s.ComputeCost(monthlyKWh)
	yesterday := s.ComputeCost(math.Max(0, monthly.KWh-math.Max(0, dailyKWh)))

	return Split{
		Monthly:   monthly,
		Yesterday: yesterday,
		Daily:     monthly.Sub(yesterday),
	}
}

// Sub returns c minus other, field by field. Tier detail is matched by tier
// index; tiers whose usage cancels out are omitted.
func (c CostBreakdown) Sub(other CostBreakdown) CostBreakdown {
	otherByTier := make(map[int]TierCharge, len(other.Tiers))
	for _, t := range other.Tiers {
		otherByTier[t.Index] = t
	}

	var tiers []TierCharge
	for _, t := range c.Tiers {
		o := otherByTier[t.Index]
		used := t.UsedKWh - o.UsedKWh
		if used <= usageEpsilon {
			continue
		}
		tiers = append(tiers, TierCharge{
			Index:     t.Index,
			UsedKWh:   used,
			UnitPrice: t.UnitPrice,
			Cost:      t.Cost - o.Cost,
		})
	}

	return CostBreakdown{
		KWh:      math.Max(0, c.KWh-other.KWh),
		Subtotal: c.Subtotal - other.Subtotal,
		VAT:      c.VAT - other.VAT,
		Total:    c.Total - other.Total,
		Tiers:    tiers,
	}
}
