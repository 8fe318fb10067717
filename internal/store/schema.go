package store

import (
	"context"
	"database/sql"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS data (
	       timestamp    INTEGER NOT NULL,
	       voltage      REAL NOT NULL,
	       current      REAL NOT NULL,
	       power        REAL NOT NULL,
	       energy       REAL NOT NULL CHECK (energy >= 0),
	       frequency    REAL NOT NULL,
	       power_factor REAL NOT NULL,
	       daily_kwh    REAL NOT NULL,
	       monthly_kwh  REAL NOT NULL,
	       daily_cost   INTEGER NOT NULL CHECK (typeof(daily_cost) = 'integer'),
	       monthly_cost INTEGER NOT NULL CHECK (typeof(monthly_cost) = 'integer')
	   );
	   CREATE INDEX IF NOT EXISTS data_timestamp ON data (timestamp);
	   CREATE TABLE IF NOT EXISTS alerts (
	       id                TEXT PRIMARY KEY,
	       timestamp         INTEGER NOT NULL,
	       alert_type        TEXT NOT NULL,
	       old_energy        REAL NOT NULL,
	       new_energy        REAL NOT NULL,
	       energy_drop_ratio REAL NOT NULL,
	       severity          TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS system_health (
	       timestamp             INTEGER NOT NULL,
	       status                TEXT NOT NULL CHECK (status IN ('healthy', 'issues')),
	       issues_count          INTEGER NOT NULL,
	       last_data_age_seconds REAL NOT NULL,
	       influx_healthy        INTEGER NOT NULL CHECK (influx_healthy IN (0, 1)),
	       mqtt_connected        INTEGER NOT NULL CHECK (mqtt_connected IN (0, 1))
	   );`

	insertDataSQL = `
    INSERT INTO data (
        timestamp,
        voltage, current, power, energy, frequency, power_factor,
        daily_kwh, monthly_kwh, daily_cost, monthly_cost
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertAlertSQL = `
    INSERT OR IGNORE INTO alerts (
        id, timestamp, alert_type, old_energy, new_energy, energy_drop_ratio, severity
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertHealthSQL = `
    INSERT INTO system_health (
        timestamp, status, issues_count, last_data_age_seconds, influx_healthy, mqtt_connected
    ) VALUES (?, ?, ?, ?, ?, ?)`
)

// dataColumns whitelists the fields window queries may select.
var dataColumns = map[string]string{
	"voltage":      "voltage",
	"current":      "current",
	"power":        "power",
	"energy":       "energy",
	"frequency":    "frequency",
	"power_factor": "power_factor",
	"daily_kwh":    "daily_kwh",
	"monthly_kwh":  "monthly_kwh",
}

// InitSchema creates a new database schema with the current version
func InitSchema(ctx context.Context, db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(ctx, db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
