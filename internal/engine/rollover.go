package engine

import "time"

// Rollover moves DayStart to Last when now has crossed into a new billing
// day, and MonthStart too when a new billing month has begun since the
// previous boundary. It reports
// whether a boundary was applied. Repeated calls within one day are no-ops,
// and so is a clock that steps backwards.
func (e *Engine) Rollover(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.rolloverLocked(now)
}

func (e *Engine) rolloverLocked(now time.Time) bool {
	boundary := e.opts.Calendar.DayStart(now)
	if !boundary.After(e.dayBoundary) {
		return false
	}

	previous := e.dayBoundary
	e.dayBoundary = boundary
	e.baselines.DayStart = e.baselines.Last

	// A gap spanning the month-start day still counts as a new month.
	cal := e.opts.Calendar
	monthly := cal.MonthStart(boundary).After(cal.MonthStart(previous))
	if monthly {
		e.baselines.MonthStart = e.baselines.Last
	}
	e.baselines.Clamp()

	e.log.Info().
		Time("boundary", boundary).
		Time("previous_boundary", previous).
		Bool("month_reset", monthly).
		Float64("baseline_energy", e.baselines.Last).
		Msg("Billing period rollover")

	return true
}
