package store

import (
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
)

const (
	BackendInfluxDB = "influxdb"
	BackendSQLite   = "sqlite"

	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/pzemd/pzemd.db"
)

type Config struct {
	Backend  string       `mapstructure:"backend"`
	InfluxDB InfluxConfig `mapstructure:"influxdb"`
	SQLite   SQLiteConfig `mapstructure:"sqlite"`
	Retry    RetryPolicy  `mapstructure:"retry"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
	// Timeout bounds each HTTP request to the server.
	Timeout time.Duration `mapstructure:"timeout"`
}

type SQLiteConfig struct {
	DBPath string `mapstructure:"db_path"`
	// BatchSize realtime rows are buffered before a flush; 0 or 1 writes
	// every row immediately.
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// RetryPolicy bounds the exponential backoff applied to store calls.
type RetryPolicy struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendInfluxDB,
		InfluxDB: InfluxConfig{
			URL:     "http://localhost:8086",
			Timeout: 10 * time.Second,
		},
		SQLite: SQLiteConfig{
			DBPath:       defaultDBPath,
			BatchSize:    12,
			BatchTimeout: time.Minute,
		},
		Retry: RetryPolicy{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxElapsed:      15 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch c.Backend {
	case BackendInfluxDB:
		var missing []string
		if c.InfluxDB.URL == "" {
			missing = append(missing, "url")
		}
		if c.InfluxDB.Token == "" {
			missing = append(missing, "token")
		}
		if c.InfluxDB.Org == "" {
			missing = append(missing, "org")
		}
		if c.InfluxDB.Bucket == "" {
			missing = append(missing, "bucket")
		}
		if len(missing) > 0 {
			return errFactory.WithData(ErrMissingInflux, missing)
		}
	case BackendSQLite:
		if c.SQLite.DBPath == "" {
			return errFactory.New(ErrInvalidDBPath)
		}
	default:
		return errFactory.WithData(ErrInvalidBackend, c.Backend)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
