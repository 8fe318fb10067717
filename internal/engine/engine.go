// Package engine owns the energy baselines, applies readings to them and
// prices the resulting daily and monthly consumption.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/pzemd/internal/baseline"
	"codeberg.org/mutker/pzemd/internal/billing"
	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	"codeberg.org/mutker/pzemd/internal/meter"
	"codeberg.org/mutker/pzemd/internal/period"
	"codeberg.org/mutker/pzemd/internal/store"
)

type State int

const (
	StateUninitialized State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "uninitialized"
	}
}

const (
	defaultStaleAfter    = 5 * time.Minute
	defaultWriteTimeout  = 10 * time.Second
	defaultHealthTimeout = 5 * time.Second
)

// Options wires the engine to its collaborators. Sink, Store, Transport and
// Alerts are optional.
type Options struct {
	Calendar  period.Calendar
	Schedule  *billing.Schedule
	Validator *meter.Validator
	Detector  *meter.Detector

	Sink      store.Writer
	Store     Pinger
	Transport ConnectionChecker
	Alerts    AlertPublisher

	StaleAfter    time.Duration
	WriteTimeout  time.Duration
	HealthTimeout time.Duration

	Now    func() time.Time
	Logger logger.Logger
}

// Stats counts messages by outcome since start.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
	Resets   uint64 `json:"resets"`
}

// Engine is safe for concurrent use. One mutex covers the baselines, the
// last-data time, the rollover boundary and the last health result, so a
// health check never observes a half-applied reading.
type Engine struct {
	opts Options
	log  logger.Logger

	mu          sync.Mutex
	state       State
	baselines   baseline.Triple
	hasReading  bool
	lastDataAt  time.Time
	dayBoundary time.Time
	startedAt   time.Time
	lastHealth  *HealthStatus
	stats       Stats
}

// Result describes one accepted reading.
type Result struct {
	Reading    meter.Reading
	At         time.Time
	DailyKWh   float64
	MonthlyKWh float64
	Costs      billing.Split
	Baselines  baseline.Triple
	Warnings   []string
	Reset      *meter.Anomaly
}

// New builds a running engine from already recovered baselines.
func New(initial baseline.Triple, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.With("engine")
	}
	if opts.Validator == nil {
		opts.Validator = meter.NewValidator(meter.DefaultThresholds(), opts.Logger.With("validator"))
	}
	if opts.Detector == nil {
		opts.Detector = meter.NewDetector(meter.DefaultResetDropRatio)
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = defaultHealthTimeout
	}

	now := opts.Now()
	initial.Clamp()

	e := &Engine{
		opts:        opts,
		log:         opts.Logger,
		baselines:   initial,
		dayBoundary: opts.Calendar.DayStart(now),
		startedAt:   now,
		state:       StateRunning,
	}

	e.log.Info().
		Float64("last_energy", initial.Last).
		Float64("month_start_energy", initial.MonthStart).
		Float64("day_start_energy", initial.DayStart).
		Time("day_boundary", e.dayBoundary).
		Msg("Accounting engine running")

	return e
}

// Bootstrap recovers baselines from src and returns a running engine.
func Bootstrap(ctx context.Context, src baseline.Source, recovery baseline.Options, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	recovery.Calendar = opts.Calendar
	initial := baseline.Recover(ctx, src, opts.Now(), recovery)
	return New(initial, opts)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Baselines returns a copy of the current triple.
func (e *Engine) Baselines() baseline.Triple {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baselines
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) Schedule() *billing.Schedule {
	return e.opts.Schedule
}

// HandlePayload is the transport callback: decode, ingest, emit. Every
// failure ends here and is logged; nothing propagates to the transport.
func (e *Engine) HandlePayload(ctx context.Context, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.stats.Dropped++
			e.mu.Unlock()
			err := errors.New().WithData(ErrPanic, r)
			e.log.ErrorWithCode(err).Str("payload", string(payload)).Msg("Recovered from panic while handling message")
		}
	}()

	r, err := meter.DecodePayload(payload)
	if err != nil {
		if errors.HasCode(err, meter.ErrDeviceStatus) {
			e.log.Info().Str("payload", string(payload)).Msg("Device status message")
			return
		}
		e.mu.Lock()
		e.stats.Dropped++
		e.mu.Unlock()
		e.log.Warn().Err(err).Str("payload", string(payload)).Msg("Dropping malformed message")
		return
	}

	if _, err := e.Ingest(ctx, r, e.opts.Now()); err != nil {
		e.log.Warn().Err(err).Msg("Reading not accepted")
	}
}

// Ingest applies one reading. A rejected reading returns an ErrRejected
// error and leaves the state untouched. Store and alert failures are
// logged, not returned.
func (e *Engine) Ingest(ctx context.Context, r meter.Reading, at time.Time) (*Result, error) {
	res, anomalies, err := e.apply(r, at)

	for _, a := range anomalies {
		e.emitAnomaly(ctx, a)
	}
	if err != nil {
		return nil, err
	}

	e.emitRealtime(ctx, res)

	e.log.Debug().
		Float64("power", r.Power).
		Float64("energy", r.Energy).
		Float64("daily_kwh", res.DailyKWh).
		Float64("monthly_kwh", res.MonthlyKWh).
		Int64("daily_cost", res.Costs.Daily.Total).
		Int64("monthly_cost", res.Costs.Monthly.Total).
		Msg("Reading processed")

	return res, nil
}

// apply is the critical section: validate, detect reset, update and price.
func (e *Engine) apply(r meter.Reading, at time.Time) (*Result, []*meter.Anomaly, error) {
	errFactory := errors.New()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return nil, nil, errFactory.New(ErrNotRunning)
	}

	e.rolloverLocked(at)

	var previous *float64
	if e.hasReading {
		prev := e.baselines.Last
		previous = &prev
	}

	verdict := e.opts.Validator.Validate(r, previous)
	if !verdict.Valid() {
		e.stats.Rejected++
		anomaly := meter.ValidationFailure(e.baselines.Last, r, verdict, at)
		return nil, []*meter.Anomaly{anomaly},
			errFactory.WithData(ErrRejected, strings.Join(verdict.Rejections, "; "))
	}

	var anomalies []*meter.Anomaly
	reset := e.opts.Detector.CheckForReset(e.baselines.Last, r.Energy, at)
	if reset != nil {
		// The new counter value is accepted as ground truth; the clamp
		// below re-anchors the period baselines to it.
		e.stats.Resets++
		anomalies = append(anomalies, reset)
		e.log.Warn().
			Float64("old_energy", reset.OldValue).
			Float64("new_energy", reset.NewValue).
			Float64("energy_drop_ratio", reset.DropRatio).
			Msg("Energy counter reset detected")
	}

	e.baselines.Last = r.Energy
	e.baselines.Clamp()
	e.hasReading = true
	e.lastDataAt = at
	e.stats.Accepted++

	daily, monthly := e.consumptionLocked()

	return &Result{
		Reading:    r,
		At:         at,
		DailyKWh:   daily,
		MonthlyKWh: monthly,
		Costs:      e.opts.Schedule.Split(monthly, daily),
		Baselines:  e.baselines,
		Warnings:   verdict.Warnings,
		Reset:      reset,
	}, anomalies, nil
}

func (e *Engine) consumptionLocked() (daily, monthly float64) {
	daily = math.Max(0, e.baselines.Last-e.baselines.DayStart)
	monthly = math.Max(0, e.baselines.Last-e.baselines.MonthStart)
	return daily, monthly
}

func (e *Engine) emitRealtime(ctx context.Context, res *Result) {
	if e.opts.Sink == nil {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()

	rec := &store.Realtime{
		Time:        res.At,
		Voltage:     res.Reading.Voltage,
		Current:     res.Reading.Current,
		Power:       res.Reading.Power,
		Energy:      res.Reading.Energy,
		Frequency:   res.Reading.Frequency,
		PowerFactor: res.Reading.PowerFactor,
		DailyKWh:    res.DailyKWh,
		MonthlyKWh:  res.MonthlyKWh,
		DailyCost:   res.Costs.Daily.Total,
		MonthlyCost: res.Costs.Monthly.Total,
	}
	if err := e.opts.Sink.WriteRealtime(wctx, rec); err != nil {
		e.log.Error().Err(err).Msg("Failed to write realtime record")
	}
}

func (e *Engine) emitAnomaly(ctx context.Context, a *meter.Anomaly) {
	wctx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()

	if e.opts.Sink != nil {
		if err := e.opts.Sink.WriteAlert(wctx, alertRecord(a)); err != nil {
			e.log.Error().Err(err).Str("kind", string(a.Kind)).Msg("Failed to write anomaly record")
		}
	}
	if e.opts.Alerts != nil {
		if err := e.opts.Alerts.Publish(wctx, a); err != nil {
			e.log.Error().Err(err).Str("kind", string(a.Kind)).Msg("Failed to publish anomaly")
		}
	}
}

func alertRecord(a *meter.Anomaly) *store.Alert {
	alertType := store.AlertTypeValidation
	if a.Kind == meter.KindCounterReset {
		alertType = store.AlertTypeReset
	}
	return &store.Alert{
		ID:        a.ID,
		Time:      a.Timestamp,
		Type:      alertType,
		OldEnergy: a.OldValue,
		NewEnergy: a.NewValue,
		DropRatio: a.DropRatio,
		Severity:  string(a.Severity),
	}
}

// Summary is a point-in-time view of consumption and cost.
type Summary struct {
	Timestamp  time.Time       `json:"timestamp"`
	State      string          `json:"state"`
	DailyKWh   float64         `json:"daily_kwh"`
	MonthlyKWh float64         `json:"monthly_kwh"`
	Costs      billing.Split   `json:"costs"`
	Baselines  baseline.Triple `json:"baselines"`
	LastDataAt *time.Time      `json:"last_data_at,omitempty"`
	Stats      Stats           `json:"stats"`
}

// Summary prices the current baselines without ingesting anything.
func (e *Engine) Summary(now time.Time) Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	daily, monthly := e.consumptionLocked()
	s := Summary{
		Timestamp:  now,
		State:      e.state.String(),
		DailyKWh:   daily,
		MonthlyKWh: monthly,
		Costs:      e.opts.Schedule.Split(monthly, daily),
		Baselines:  e.baselines,
		Stats:      e.stats,
	}
	if e.hasReading {
		at := e.lastDataAt
		s.LastDataAt = &at
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("daily=%.3fkWh (%d) monthly=%.3fkWh (%d)",
		s.DailyKWh, s.Costs.Daily.Total, s.MonthlyKWh, s.Costs.Monthly.Total)
}
