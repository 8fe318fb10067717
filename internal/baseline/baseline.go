// Package baseline reconstructs the cumulative energy values that anchor
// daily and monthly consumption from the time-series store.
package baseline

import (
	"context"
	"time"

	"codeberg.org/mutker/pzemd/internal/logger"
	"codeberg.org/mutker/pzemd/internal/period"
)

// EnergyField is the store field holding the cumulative counter.
const EnergyField = "energy"

// Source answers "first/last value of a field within [start, stop)" queries.
// found is false when the window holds no value.
type Source interface {
	LastValue(ctx context.Context, field string, start, stop time.Time) (value float64, found bool, err error)
	FirstValue(ctx context.Context, field string, start, stop time.Time) (value float64, found bool, err error)
}

// Triple holds the cumulative readings consumption is measured against.
type Triple struct {
	Last       float64 `json:"last_energy"`
	MonthStart float64 `json:"month_start_energy"`
	DayStart   float64 `json:"day_start_energy"`
}

// Clamp pulls baselines above Last down to Last so derived consumption is
// never negative.
func (t *Triple) Clamp() {
	if t.MonthStart > t.Last {
		t.MonthStart = t.Last
	}
	if t.DayStart > t.Last {
		t.DayStart = t.Last
	}
}

// Sane reports whether both baselines are at or below Last.
func (t Triple) Sane() bool {
	return t.MonthStart <= t.Last && t.DayStart <= t.Last
}

// Options control recovery windows.
type Options struct {
	Calendar period.Calendar
	// Lookback bounds the search for the latest reading and for the value
	// preceding month start.
	Lookback time.Duration
	// DayLookback bounds the search for the value preceding day start.
	DayLookback time.Duration
	// QueryTimeout applies to each individual query.
	QueryTimeout time.Duration
	Logger       logger.Logger
}

const (
	DefaultLookback     = 30 * 24 * time.Hour
	DefaultDayLookback  = 7 * 24 * time.Hour
	DefaultQueryTimeout = 10 * time.Second

	monthWindow = 24 * time.Hour
	dayWindow   = time.Hour
)

func (o *Options) setDefaults() {
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.DayLookback <= 0 {
		o.DayLookback = DefaultDayLookback
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.With("baseline")
	}
}

// Recover rebuilds the triple as of now. Query failures degrade to "absent"
// and are only logged, so an unreachable store yields zeroed baselines
// rather than an error.
func Recover(ctx context.Context, src Source, now time.Time, opts Options) Triple {
	opts.setDefaults()
	r := recoverer{src: src, opts: opts}

	var t Triple

	if v, ok := r.query(ctx, "last", src.LastValue, now.Add(-opts.Lookback), now.Add(time.Nanosecond)); ok {
		t.Last = v
	}

	monthStart := opts.Calendar.MonthStart(now)
	if v, ok := r.query(ctx, "month_first", src.FirstValue, monthStart, monthStart.Add(monthWindow)); ok {
		t.MonthStart = v
	} else if v, ok := r.query(ctx, "month_before", src.LastValue, monthStart.Add(-opts.Lookback), monthStart); ok {
		t.MonthStart = v
	}

	dayStart := opts.Calendar.DayStart(now)
	if v, ok := r.query(ctx, "day_first", src.FirstValue, dayStart, dayStart.Add(dayWindow)); ok {
		t.DayStart = v
	} else if v, ok := r.query(ctx, "day_before", src.LastValue, dayStart.Add(-opts.DayLookback), dayStart); ok {
		t.DayStart = v
	}

	t = settle(t)

	opts.Logger.Info().
		Float64("last_energy", t.Last).
		Float64("month_start_energy", t.MonthStart).
		Float64("day_start_energy", t.DayStart).
		Time("month_start", monthStart).
		Time("day_start", dayStart).
		Msg("Energy baselines recovered")

	return t
}

// settle applies the fallback and clamp pass.
func settle(t Triple) Triple {
	if t.Last == 0 {
		return Triple{}
	}
	if t.MonthStart == 0 {
		t.MonthStart = t.Last
	}
	if t.DayStart == 0 {
		t.DayStart = t.Last
	}
	t.Clamp()
	return t
}

type queryFunc func(ctx context.Context, field string, start, stop time.Time) (float64, bool, error)

type recoverer struct {
	src  Source
	opts Options
}

func (r recoverer) query(ctx context.Context, name string, fn queryFunc, start, stop time.Time) (float64, bool) {
	qctx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
	defer cancel()

	v, found, err := fn(qctx, EnergyField, start, stop)
	if err != nil {
		r.opts.Logger.Warn().
			Err(err).
			Str("query", name).
			Time("start", start).
			Time("stop", stop).
			Msg("Baseline query failed, treating as absent")
		return 0, false
	}

	r.opts.Logger.Debug().
		Str("query", name).
		Bool("found", found).
		Float64("value", v).
		Msg("Baseline query")

	return v, found
}
