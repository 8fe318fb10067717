package engine

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/pzemd/internal/store"
)

// HealthStatus is the outcome of one health check.
type HealthStatus struct {
	CheckedAt          time.Time     `json:"checked_at"`
	LastDataAge        time.Duration `json:"last_data_age"`
	HasData            bool          `json:"has_data"`
	StoreReachable     bool          `json:"store_reachable"`
	TransportConnected bool          `json:"transport_connected"`
	BaselineSane       bool          `json:"baseline_sane"`
	Issues             []string      `json:"issues"`
}

func (h HealthStatus) Healthy() bool {
	return len(h.Issues) == 0
}

// CheckHealth runs every probe and records the result as LastHealth and as
// a health record. Billing state is only read.
func (e *Engine) CheckHealth(ctx context.Context, now time.Time) HealthStatus {
	e.mu.Lock()
	hasData := e.hasReading
	lastDataAt := e.lastDataAt
	startedAt := e.startedAt
	sane := e.baselines.Sane()
	e.mu.Unlock()

	status := HealthStatus{
		CheckedAt:          now,
		HasData:            hasData,
		StoreReachable:     true,
		TransportConnected: true,
		BaselineSane:       sane,
	}

	if hasData {
		status.LastDataAge = now.Sub(lastDataAt)
		if status.LastDataAge > e.opts.StaleAfter {
			status.Issues = append(status.Issues,
				fmt.Sprintf("no data for %s", status.LastDataAge.Truncate(time.Second)))
		}
	} else {
		status.LastDataAge = now.Sub(startedAt)
		if status.LastDataAge > e.opts.StaleAfter {
			status.Issues = append(status.Issues, "no data received since start")
		}
	}

	if e.opts.Store != nil {
		pctx, cancel := context.WithTimeout(ctx, e.opts.HealthTimeout)
		err := e.opts.Store.Ping(pctx)
		cancel()
		if err != nil {
			status.StoreReachable = false
			status.Issues = append(status.Issues, "store unreachable: "+err.Error())
		}
	}

	if e.opts.Transport != nil && !e.opts.Transport.IsConnected() {
		status.TransportConnected = false
		status.Issues = append(status.Issues, "transport disconnected")
	}

	if !sane {
		status.Issues = append(status.Issues, "baseline above last energy")
	}

	e.mu.Lock()
	recorded := status
	e.lastHealth = &recorded
	e.mu.Unlock()

	if status.Healthy() {
		e.log.Debug().Dur("last_data_age", status.LastDataAge).Msg("Health check passed")
	} else {
		e.log.Warn().Strs("issues", status.Issues).Msg("Health check found issues")
	}

	e.writeHealth(ctx, status)

	return status
}

// LastHealth returns the most recent health check result, if any.
func (e *Engine) LastHealth() (HealthStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastHealth == nil {
		return HealthStatus{}, false
	}
	return *e.lastHealth, true
}

func (e *Engine) writeHealth(ctx context.Context, status HealthStatus) {
	if e.opts.Sink == nil {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()

	rec := &store.Health{
		Time:               status.CheckedAt,
		Status:             store.StatusHealthy,
		IssuesCount:        len(status.Issues),
		LastDataAgeSeconds: status.LastDataAge.Seconds(),
		StoreHealthy:       status.StoreReachable,
		TransportConnected: status.TransportConnected,
	}
	if !status.Healthy() {
		rec.Status = store.StatusIssues
	}
	if err := e.opts.Sink.WriteHealth(wctx, rec); err != nil {
		e.log.Error().Err(err).Msg("Failed to write health record")
	}
}
