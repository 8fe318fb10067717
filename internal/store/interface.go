package store

import (
	"context"
	"time"
)

// Querier answers window queries used by baseline recovery.
type Querier interface {
	LastValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error)
	FirstValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error)
}

// Writer accepts the records produced by the accounting engine.
type Writer interface {
	WriteRealtime(ctx context.Context, rec *Realtime) error
	WriteAlert(ctx context.Context, rec *Alert) error
	WriteHealth(ctx context.Context, rec *Health) error
}

// Store is a time-series backend.
type Store interface {
	Querier
	Writer
	Ping(ctx context.Context) error
	Close() error
}

// Measurement names shared by all backends.
const (
	MeasurementData   = "data"
	MeasurementAlerts = "alerts"
	MeasurementHealth = "system_health"
)

// Realtime is written once per accepted reading.
type Realtime struct {
	Time        time.Time
	Voltage     float64
	Current     float64
	Power       float64
	Energy      float64
	Frequency   float64
	PowerFactor float64
	DailyKWh    float64
	MonthlyKWh  float64
	DailyCost   int64
	MonthlyCost int64
}

func (r *Realtime) Fields() map[string]interface{} {
	return map[string]interface{}{
		"voltage":      r.Voltage,
		"current":      r.Current,
		"power":        r.Power,
		"energy":       r.Energy,
		"frequency":    r.Frequency,
		"power_factor": r.PowerFactor,
		"daily_kwh":    r.DailyKWh,
		"monthly_kwh":  r.MonthlyKWh,
		"daily_cost":   r.DailyCost,
		"monthly_cost": r.MonthlyCost,
	}
}

// Alert types written under the alert_type tag.
const (
	AlertTypeReset      = "pzem_reset"
	AlertTypeValidation = "validation_failure"
)

// Alert records a counter reset or a rejected reading.
type Alert struct {
	ID        string
	Time      time.Time
	Type      string
	OldEnergy float64
	NewEnergy float64
	DropRatio float64
	Severity  string
}

func (a *Alert) Tags() map[string]string {
	return map[string]string{"alert_type": a.Type}
}

func (a *Alert) Fields() map[string]interface{} {
	return map[string]interface{}{
		"old_energy":        a.OldEnergy,
		"new_energy":        a.NewEnergy,
		"energy_drop_ratio": a.DropRatio,
		"severity":          a.Severity,
	}
}

// Health status tag values.
const (
	StatusHealthy = "healthy"
	StatusIssues  = "issues"
)

// Health is written once per health check.
type Health struct {
	Time               time.Time
	Status             string
	IssuesCount        int
	LastDataAgeSeconds float64
	StoreHealthy       bool
	TransportConnected bool
}

func (h *Health) Tags() map[string]string {
	return map[string]string{"status": h.Status}
}

func (h *Health) Fields() map[string]interface{} {
	return map[string]interface{}{
		"issues_count":          h.IssuesCount,
		"last_data_age_seconds": h.LastDataAgeSeconds,
		"influx_healthy":        boolToInt(h.StoreHealthy),
		"mqtt_connected":        boolToInt(h.TransportConnected),
	}
}
