package engine

import (
	"context"

	"codeberg.org/mutker/pzemd/internal/meter"
)

// Pinger probes the store for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker reports whether the reading transport is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// AlertPublisher forwards anomaly records to an external consumer.
type AlertPublisher interface {
	Publish(ctx context.Context, a *meter.Anomaly) error
}
