package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/pzemd/internal/config"
	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/store"
	"codeberg.org/mutker/pzemd/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requiredEnv supplies the settings that have no usable default.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PZEMD_CONFIG", "")
	t.Setenv("PZEMD_MQTT_BROKER", "tcp://localhost:1883")
	t.Setenv("PZEMD_STORE_INFLUXDB_TOKEN", "token")
	t.Setenv("PZEMD_STORE_INFLUXDB_ORG", "home")
	t.Setenv("PZEMD_STORE_INFLUXDB_BUCKET", "pzem")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pzemd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "debug"
timezone = "Asia/Ho_Chi_Minh"
summary_interval = "1m"

[billing]
vat_rate = 0.1
reset_time = "06:30"
month_start_day = 15

[[billing.tiers]]
width = 100
price = 1000

[[billing.tiers]]
width = 0
price = 2000

[validation]
max_energy_step = 2.5
reset_drop_ratio = 0.4

[mqtt]
broker = "tcp://broker:1883"
topics = ["home/pzem", "garage/pzem"]
username = "meter"

[store]
backend = "sqlite"

[store.sqlite]
db_path = "/tmp/pzemd-test.db"
batch_size = 6

[kafka]
brokers = ["kafka:9092"]
topic = "energy.alerts"

[http]
listen = ":8080"
`)
	t.Setenv("PZEMD_CONFIG", configPath)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.SummaryInterval)
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Calendar().Location().String())
	assert.Equal(t, "06:30", cfg.Calendar().ResetTime())
	assert.Equal(t, 15, cfg.Calendar().MonthStartDay())

	tiers := cfg.Schedule().Tiers()
	require.Len(t, tiers, 2)
	assert.Equal(t, 100.0, tiers[0].Width)
	assert.Equal(t, 0.1, cfg.Schedule().VATRate())
	assert.Equal(t, int64(100000), cfg.Schedule().ComputeCost(100).Subtotal)

	assert.Equal(t, 2.5, cfg.Thresholds().MaxEnergyStep)
	assert.Equal(t, 300.0, cfg.Thresholds().MaxVoltage)
	assert.Equal(t, 0.4, cfg.Validation.ResetDropRatio)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, []string{"home/pzem", "garage/pzem"}, cfg.MQTT.Topics)
	assert.Equal(t, "meter", cfg.MQTT.Username)
	assert.Equal(t, "pzemd", cfg.MQTT.ClientID)

	assert.Equal(t, store.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/pzemd-test.db", cfg.Store.SQLite.DBPath)
	assert.Equal(t, 6, cfg.Store.SQLite.BatchSize)
	assert.Equal(t, time.Minute, cfg.Store.SQLite.BatchTimeout)

	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "energy.alerts", cfg.Kafka.Topic)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
}

func TestLoadDefaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := config.Load(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.SummaryInterval)
	assert.Equal(t, 5*time.Minute, cfg.Health.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Health.StaleAfter)
	assert.Equal(t, 30*24*time.Hour, cfg.Recovery.Lookback)
	assert.Equal(t, 7*24*time.Hour, cfg.Recovery.DayLookback)

	assert.Len(t, cfg.Schedule().Tiers(), 6)
	assert.Equal(t, 0.08, cfg.Schedule().VATRate())
	assert.Equal(t, "00:00", cfg.Calendar().ResetTime())
	assert.Equal(t, 1, cfg.Calendar().MonthStartDay())
	assert.Equal(t, 0.5, cfg.Validation.ResetDropRatio)

	assert.Equal(t, []string{"pzem/data"}, cfg.MQTT.Topics)
	assert.Equal(t, store.BackendInfluxDB, cfg.Store.Backend)
	assert.Equal(t, "http://localhost:8086", cfg.Store.InfluxDB.URL)
	assert.Equal(t, "pzem", cfg.Store.InfluxDB.Bucket)
	assert.Equal(t, 3, cfg.Store.Retry.MaxRetries)
	assert.False(t, cfg.KafkaEnabled())
	assert.Empty(t, cfg.HTTP.Listen)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PZEMD_CONFIG", writeConfig(t, `
This is not a valid TOML file
`))

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadMissingConfigFile(t *testing.T) {
	requiredEnv(t)

	_, err := config.Load([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PZEMD_CONFIG", writeConfig(t, `
log_level = "invalid"
`))

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestLogLevelFlag(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PZEMD_LOG_LEVEL", "error")

	cfg, err := config.Load([]string{"--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestEnvOverridesFile(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PZEMD_CONFIG", writeConfig(t, `
log_level = "warn"
[billing]
month_start_day = 10
`))
	t.Setenv("PZEMD_BILLING_MONTH_START_DAY", "20")

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 20, cfg.Calendar().MonthStartDay())
}

func TestFlagsOverrideEnv(t *testing.T) {
	requiredEnv(t)

	cfg, err := config.Load([]string{
		"--mqtt-broker", "tcp://other:1883",
		"--mqtt-topics", "a/b,c/d",
		"--timezone", "+07:00",
		"--http-listen", "127.0.0.1:9000",
	})
	require.NoError(t, err)
	assert.Equal(t, "tcp://other:1883", cfg.MQTT.Broker)
	assert.Equal(t, []string{"a/b", "c/d"}, cfg.MQTT.Topics)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)

	_, offset := time.Date(2026, 1, 1, 0, 0, 0, 0, cfg.Calendar().Location()).Zone()
	assert.Equal(t, 7*3600, offset)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		code    errors.ErrorCode
	}{
		{
			name: "missing broker",
			env:  map[string]string{"PZEMD_MQTT_BROKER": ""},
			code: transport.ErrMissingBroker,
		},
		{
			name: "missing influx token",
			env:  map[string]string{"PZEMD_STORE_INFLUXDB_TOKEN": ""},
			code: store.ErrMissingInflux,
		},
		{
			name:    "bounded last tier",
			content: "[[billing.tiers]]\nwidth = 50\nprice = 1000\n",
			code:    errors.ErrInvalidConfig,
		},
		{
			name:    "negative vat",
			content: "[billing]\nvat_rate = -0.1\n",
			code:    errors.ErrInvalidConfig,
		},
		{
			name:    "bad reset time",
			content: "[billing]\nreset_time = \"25:00\"\n",
			code:    errors.ErrInvalidConfig,
		},
		{
			name:    "month start day out of range",
			content: "[billing]\nmonth_start_day = 29\n",
			code:    errors.ErrInvalidConfig,
		},
		{
			name:    "unknown timezone",
			content: "timezone = \"Mars/Olympus\"\n",
			code:    errors.ErrInvalidTimezone,
		},
		{
			name:    "drop ratio out of range",
			content: "[validation]\nreset_drop_ratio = 1.5\n",
			code:    errors.ErrInvalidConfig,
		},
		{
			name:    "unknown backend",
			content: "[store]\nbackend = \"csv\"\n",
			code:    store.ErrInvalidBackend,
		},
		{
			name:    "kafka without topic",
			content: "[kafka]\nbrokers = [\"kafka:9092\"]\ntopic = \"\"\n",
			code:    errors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.content != "" {
				t.Setenv("PZEMD_CONFIG", writeConfig(t, tt.content))
			}

			_, err := config.Load(nil)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestLoadCustomTierWidths(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PZEMD_CONFIG", writeConfig(t, `
[[billing.tiers]]
width = 52
price = 1984

[[billing.tiers]]
width = 52
price = 2050

[[billing.tiers]]
width = 103
price = 2380

[[billing.tiers]]
width = 103
price = 2998

[[billing.tiers]]
width = 103
price = 3350

[[billing.tiers]]
width = 0
price = 3460
`))

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	tiers := cfg.Schedule().Tiers()
	require.Len(t, tiers, 6)
	assert.Equal(t, 52.0, tiers[0].Width)
	assert.Equal(t, 103.0, tiers[4].Width)
	assert.Equal(t, int64(52*1984+2*2050), cfg.Schedule().ComputeCost(54).Subtotal)
}
