// Package store persists engine output to a time-series backend and answers
// the window queries baseline recovery relies on.
package store

import (
	"context"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
)

// Open builds the configured backend wrapped with the retry policy.
func Open(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case BackendInfluxDB:
		s, err = NewInfluxStore(cfg.InfluxDB, log.With("influxdb"))
	case BackendSQLite:
		s, err = NewSQLiteStore(ctx, cfg.SQLite, log.With("sqlite"))
	default:
		return nil, errFactory.WithData(ErrInvalidBackend, cfg.Backend)
	}
	if err != nil {
		log.Debug().Err(err).Str("backend", cfg.Backend).Msg("Failed to open store")
		return nil, err
	}

	return WithRetry(s, cfg.Retry, log.With("retry")), nil
}
