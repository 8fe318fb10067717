package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	"codeberg.org/mutker/pzemd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, batch int) (store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pzemd.db")
	s, err := store.NewSQLiteStore(context.Background(), store.SQLiteConfig{
		DBPath:       path,
		BatchSize:    batch,
		BatchTimeout: time.Hour,
	}, logger.With("test"))
	require.NoError(t, err)
	return s, path
}

func realtime(at time.Time, energy float64) *store.Realtime {
	return &store.Realtime{
		Time:        at,
		Voltage:     230,
		Current:     1,
		Power:       207,
		Energy:      energy,
		Frequency:   50,
		PowerFactor: 0.9,
		DailyKWh:    1.5,
		MonthlyKWh:  20,
		DailyCost:   3200,
		MonthlyCost: 42850,
	}
}

func TestSQLiteWindowQueries(t *testing.T) {
	s, _ := openSQLite(t, 1)
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	for i, e := range []float64{100, 101, 102.5, 104} {
		require.NoError(t, s.WriteRealtime(ctx, realtime(base.Add(time.Duration(i)*time.Hour), e)))
	}

	v, found, err := s.FirstValue(ctx, "energy", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 100.0, v)

	v, found, err = s.LastValue(ctx, "energy", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 102.5, v, "stop bound is exclusive")

	_, found, err = s.LastValue(ctx, "energy", base.Add(-48*time.Hour), base)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteBufferedRowsAreQueryable(t *testing.T) {
	s, _ := openSQLite(t, 100)
	defer s.Close()

	ctx := context.Background()
	at := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteRealtime(ctx, realtime(at, 77.7)))

	v, found, err := s.LastValue(ctx, "energy", at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 77.7, v)
}

func TestSQLiteRejectsUnknownField(t *testing.T) {
	s, _ := openSQLite(t, 1)
	defer s.Close()

	_, _, err := s.LastValue(context.Background(), "energy; DROP TABLE data", time.Unix(0, 0), time.Now())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, store.ErrInvalidField))
}

func TestSQLiteAlertsAndHealth(t *testing.T) {
	s, _ := openSQLite(t, 1)
	defer s.Close()

	ctx := context.Background()
	alert := &store.Alert{
		ID:        "a1",
		Time:      time.Now(),
		Type:      store.AlertTypeReset,
		OldEnergy: 100,
		NewEnergy: 2,
		DropRatio: 0.02,
		Severity:  "critical",
	}
	require.NoError(t, s.WriteAlert(ctx, alert))
	require.NoError(t, s.WriteAlert(ctx, alert), "duplicate ids are ignored")

	require.NoError(t, s.WriteHealth(ctx, &store.Health{
		Time:               time.Now(),
		Status:             store.StatusIssues,
		IssuesCount:        1,
		LastDataAgeSeconds: 600,
		StoreHealthy:       true,
	}))
	require.NoError(t, s.Ping(ctx))
}

func TestSQLiteReopenKeepsHistory(t *testing.T) {
	s, path := openSQLite(t, 10)
	ctx := context.Background()
	at := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteRealtime(ctx, realtime(at, 55)))
	require.NoError(t, s.Close())

	reopened, err := store.NewSQLiteStore(ctx, store.SQLiteConfig{DBPath: path, BatchSize: 1}, logger.With("test"))
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.LastValue(ctx, "energy", at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 55.0, v)
}

func TestSQLiteWriteAfterClose(t *testing.T) {
	s, _ := openSQLite(t, 10)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.WriteRealtime(context.Background(), realtime(time.Now(), 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, store.ErrClosed))
}

func hideDataTable(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec("ALTER TABLE data RENAME TO data_hidden")
	require.NoError(t, err)
}

func restoreDataTable(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec("ALTER TABLE data_hidden RENAME TO data")
	require.NoError(t, err)
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM data").Scan(&n))
	return n
}

// healingStore brings the data table back after the first failed write.
type healingStore struct {
	store.Store
	t      *testing.T
	db     *sql.DB
	failed int
}

func (h *healingStore) WriteRealtime(ctx context.Context, rec *store.Realtime) error {
	err := h.Store.WriteRealtime(ctx, rec)
	if err != nil {
		h.failed++
		if h.failed == 1 {
			restoreDataTable(h.t, h.db)
		}
	}
	return err
}

func TestSQLiteRetriedWriteIsStoredOnce(t *testing.T) {
	s, path := openSQLite(t, 1)
	defer s.Close()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	hideDataTable(t, db)

	healing := &healingStore{Store: s, t: t, db: db}
	retried := store.WithRetry(healing, store.RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, logger.With("test"))

	at := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, retried.WriteRealtime(context.Background(), realtime(at, 12.5)))

	assert.Equal(t, 1, healing.failed)
	assert.Equal(t, 1, countRows(t, db))
}

func TestSQLiteFailedFlushDoesNotGrowBuffer(t *testing.T) {
	s, path := openSQLite(t, 3)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	hideDataTable(t, db)

	ctx := context.Background()
	at := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	var failures int
	for i := 0; i < 6; i++ {
		if err := s.WriteRealtime(ctx, realtime(at.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			assert.True(t, errors.HasCode(err, store.ErrTransactionFailed))
			failures++
		}
	}
	assert.Equal(t, 4, failures)

	restoreDataTable(t, db)
	require.NoError(t, s.Close())

	assert.Equal(t, 2, countRows(t, db), "only the two rows accepted before the outage are kept")
}
