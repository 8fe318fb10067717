package engine

import (
	"context"
	"time"
)

const (
	DefaultTickInterval    = time.Second
	DefaultHealthInterval  = 5 * time.Minute
	DefaultSummaryInterval = 5 * time.Minute
)

// LoopOptions sets the cadence of the tick driver.
type LoopOptions struct {
	TickInterval    time.Duration
	HealthInterval  time.Duration
	SummaryInterval time.Duration
}

func (o *LoopOptions) setDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.SummaryInterval <= 0 {
		o.SummaryInterval = DefaultSummaryInterval
	}
}

// Run drives rollover, health checks and summary logging until ctx is done.
func (e *Engine) Run(ctx context.Context, opts LoopOptions) error {
	opts.setDefaults()

	ticker := time.NewTicker(opts.TickInterval)
	defer ticker.Stop()

	var lastHealth, lastSummary time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := e.opts.Now()
			e.Rollover(now)

			if lastHealth.IsZero() || now.Sub(lastHealth) >= opts.HealthInterval {
				e.CheckHealth(ctx, now)
				lastHealth = now
			}

			if lastSummary.IsZero() || now.Sub(lastSummary) >= opts.SummaryInterval {
				e.logSummary(now)
				lastSummary = now
			}
		}
	}
}

func (e *Engine) logSummary(now time.Time) {
	s := e.Summary(now)
	e.log.Info().
		Float64("daily_kwh", s.DailyKWh).
		Int64("daily_cost", s.Costs.Daily.Total).
		Float64("monthly_kwh", s.MonthlyKWh).
		Int64("monthly_cost", s.Costs.Monthly.Total).
		Uint64("accepted", s.Stats.Accepted).
		Uint64("rejected", s.Stats.Rejected).
		Uint64("resets", s.Stats.Resets).
		Msg("Consumption summary")
}
