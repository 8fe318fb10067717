package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type sqliteStore struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           SQLiteConfig
	mu            sync.Mutex
	buffer        []*Realtime
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewSQLiteStore opens (creating if needed) a local SQLite database.
// Realtime rows are buffered and written in batches; alerts and health
// records are written immediately.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(ctx, db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("SQLite store initialized")

	s := &sqliteStore{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*Realtime, 0, max(cfg.BatchSize, 1)),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 1 && cfg.BatchTimeout > 0 {
		s.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go s.flusher()
	} else {
		close(s.flushDoneChan)
	}

	return s, nil
}

func (s *sqliteStore) WriteRealtime(ctx context.Context, rec *Realtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New().New(ErrClosed)
	}

	s.buffer = append(s.buffer, rec)

	if len(s.buffer) >= s.cfg.BatchSize {
		if err := s.flush(ctx); err != nil {
			// rec is not kept on error, so a retried call adds it once. The
			// buffer never holds more than BatchSize-1 rows between calls.
			s.buffer = s.buffer[:len(s.buffer)-1]
			return err
		}
	}

	return nil
}

func (s *sqliteStore) WriteAlert(ctx context.Context, rec *Alert) error {
	_, err := s.db.ExecContext(ctx, insertAlertSQL,
		rec.ID,
		rec.Time.UnixNano(),
		rec.Type,
		rec.OldEnergy,
		rec.NewEnergy,
		rec.DropRatio,
		rec.Severity,
	)
	if err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}
	return nil
}

func (s *sqliteStore) WriteHealth(ctx context.Context, rec *Health) error {
	_, err := s.db.ExecContext(ctx, insertHealthSQL,
		rec.Time.UnixNano(),
		rec.Status,
		rec.IssuesCount,
		rec.LastDataAgeSeconds,
		boolToInt(rec.StoreHealthy),
		boolToInt(rec.TransportConnected),
	)
	if err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}
	return nil
}

func (s *sqliteStore) LastValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error) {
	return s.windowValue(ctx, field, start, stop, "DESC")
}

func (s *sqliteStore) FirstValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error) {
	return s.windowValue(ctx, field, start, stop, "ASC")
}

func (s *sqliteStore) windowValue(ctx context.Context, field string, start, stop time.Time, order string) (float64, bool, error) {
	errFactory := errors.New()

	column, ok := dataColumns[field]
	if !ok {
		return 0, false, errFactory.WithData(ErrInvalidField, field)
	}

	// Buffered rows must be visible to the query.
	s.mu.Lock()
	err := s.flush(ctx)
	s.mu.Unlock()
	if err != nil {
		return 0, false, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM data WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp %s LIMIT 1",
		column, order)

	var v float64
	err = s.db.QueryRowContext(ctx, query, start.UnixNano(), stop.UnixNano()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errFactory.Wrap(ErrQueryFailed, err)
	}

	return v, true, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.New().Wrap(ErrUnreachable, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.flushTicker != nil {
		close(s.shutdownChan)
		s.flushTicker.Stop()
	}

	// Wait for the flusher to finish its final flush
	<-s.flushDoneChan

	s.mu.Lock()
	if err := s.flush(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to flush buffered rows on close")
	}
	s.mu.Unlock()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := s.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.logger.Info().Msg("SQLite store closed gracefully")

	return nil
}

func (s *sqliteStore) flusher() {
	defer close(s.flushDoneChan)

	for {
		select {
		case <-s.flushTicker.C:
			s.mu.Lock()
			if err := s.flush(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("Periodic flush failed")
			}
			s.mu.Unlock()
		case <-s.shutdownChan:
			return
		}
	}
}

// flush writes buffered realtime rows in one transaction. Callers hold mu.
// Rows stay buffered when the transaction fails so the next flush retries.
func (s *sqliteStore) flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertDataSQL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range s.buffer {
		values := []interface{}{
			rec.Time.UnixNano(),
			rec.Voltage,
			rec.Current,
			rec.Power,
			rec.Energy,
			rec.Frequency,
			rec.PowerFactor,
			rec.DailyKWh,
			rec.MonthlyKWh,
			rec.DailyCost,
			rec.MonthlyCost,
		}

		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			s.logger.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				s.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	s.logger.Debug().Int("records", len(s.buffer)).Msg("Flushed realtime rows to database")
	s.buffer = s.buffer[:0]

	return nil
}
