// Package config loads pzemd settings from flags, PZEMD_* environment
// variables and a TOML file, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/pzemd/internal/alert"
	"codeberg.org/mutker/pzemd/internal/billing"
	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/meter"
	"codeberg.org/mutker/pzemd/internal/period"
	"codeberg.org/mutker/pzemd/internal/store"
	"codeberg.org/mutker/pzemd/internal/transport"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	DefaultConfigName = "pzemd"
	DefaultConfigDir  = "/etc"
	EnvPrefix         = "PZEMD"
	configEnv         = EnvPrefix + "_CONFIG"
)

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarn    LogLevel = "warn"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	PIDFile  string `mapstructure:"pid_file"`
	Timezone string `mapstructure:"timezone"`

	Billing    BillingConfig    `mapstructure:"billing"`
	Validation ValidationConfig `mapstructure:"validation"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Health     HealthConfig     `mapstructure:"health"`
	HTTP       HTTPConfig       `mapstructure:"http"`

	MQTT  transport.Config `mapstructure:"mqtt"`
	Store store.Config     `mapstructure:"store"`
	Kafka alert.Config     `mapstructure:"kafka"`

	// SummaryInterval is how often the consumption summary is logged.
	SummaryInterval time.Duration `mapstructure:"summary_interval"`

	schedule *billing.Schedule
	calendar period.Calendar
}

type TierConfig struct {
	// Width in kWh; 0 on the last tier means unbounded.
	Width float64 `mapstructure:"width"`
	Price float64 `mapstructure:"price"`
}

type BillingConfig struct {
	Tiers         []TierConfig `mapstructure:"tiers"`
	VATRate       float64      `mapstructure:"vat_rate"`
	ResetTime     string       `mapstructure:"reset_time"`
	MonthStartDay int          `mapstructure:"month_start_day"`
}

type ValidationConfig struct {
	MaxVoltage          float64 `mapstructure:"max_voltage"`
	MaxPower            float64 `mapstructure:"max_power"`
	MinFrequency        float64 `mapstructure:"min_frequency"`
	MaxFrequency        float64 `mapstructure:"max_frequency"`
	CrossCheckTolerance float64 `mapstructure:"cross_check_tolerance"`
	MaxEnergyStep       float64 `mapstructure:"max_energy_step"`
	ResetDropRatio      float64 `mapstructure:"reset_drop_ratio"`
}

type RecoveryConfig struct {
	Lookback     time.Duration `mapstructure:"lookback"`
	DayLookback  time.Duration `mapstructure:"day_lookback"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type HealthConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type HTTPConfig struct {
	// Listen is the status API address; empty disables the API.
	Listen string `mapstructure:"listen"`
}

// KafkaEnabled reports whether anomalies are forwarded to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// Schedule returns the validated tariff.
func (c *Config) Schedule() *billing.Schedule {
	return c.schedule
}

// Calendar returns the validated billing calendar.
func (c *Config) Calendar() period.Calendar {
	return c.calendar
}

func (c *Config) Thresholds() meter.Thresholds {
	return meter.Thresholds{
		MaxVoltage:          c.Validation.MaxVoltage,
		MaxPower:            c.Validation.MaxPower,
		MinFrequency:        c.Validation.MinFrequency,
		MaxFrequency:        c.Validation.MaxFrequency,
		CrossCheckTolerance: c.Validation.CrossCheckTolerance,
		MaxEnergyStep:       c.Validation.MaxEnergyStep,
	}
}

func setDefaults(v *viper.Viper) {
	th := meter.DefaultThresholds()
	st := store.DefaultConfig()
	mq := transport.DefaultConfig()

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_file", "")
	v.SetDefault("timezone", "Local")
	v.SetDefault("summary_interval", 5*time.Minute)

	// Residential tariff with round tier widths. A 52/52/103/103/103 kWh
	// table is configured as:
	//
	//	[[billing.tiers]]
	//	width = 52
	//	price = 1984
	//	...
	//	[[billing.tiers]]
	//	width = 0 # unbounded
	//	price = 3460
	v.SetDefault("billing.tiers", []map[string]interface{}{
		{"width": 50.0, "price": 1984.0},
		{"width": 50.0, "price": 2050.0},
		{"width": 100.0, "price": 2380.0},
		{"width": 100.0, "price": 2998.0},
		{"width": 100.0, "price": 3350.0},
		{"width": 0.0, "price": 3460.0},
	})
	v.SetDefault("billing.vat_rate", 0.08)
	v.SetDefault("billing.reset_time", "00:00")
	v.SetDefault("billing.month_start_day", 1)

	v.SetDefault("validation.max_voltage", th.MaxVoltage)
	v.SetDefault("validation.max_power", th.MaxPower)
	v.SetDefault("validation.min_frequency", th.MinFrequency)
	v.SetDefault("validation.max_frequency", th.MaxFrequency)
	v.SetDefault("validation.cross_check_tolerance", th.CrossCheckTolerance)
	v.SetDefault("validation.max_energy_step", th.MaxEnergyStep)
	v.SetDefault("validation.reset_drop_ratio", meter.DefaultResetDropRatio)

	v.SetDefault("recovery.lookback", 30*24*time.Hour)
	v.SetDefault("recovery.day_lookback", 7*24*time.Hour)
	v.SetDefault("recovery.query_timeout", 10*time.Second)

	v.SetDefault("health.interval", 5*time.Minute)
	v.SetDefault("health.stale_after", 5*time.Minute)

	v.SetDefault("http.listen", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", mq.ClientID)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topics", mq.Topics)
	v.SetDefault("mqtt.qos", mq.QoS)
	v.SetDefault("mqtt.keep_alive", mq.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", mq.ConnectTimeout)
	v.SetDefault("mqtt.max_reconnect_interval", mq.MaxReconnectInterval)

	v.SetDefault("store.backend", st.Backend)
	v.SetDefault("store.influxdb.url", st.InfluxDB.URL)
	v.SetDefault("store.influxdb.token", "")
	v.SetDefault("store.influxdb.org", "")
	v.SetDefault("store.influxdb.bucket", "")
	v.SetDefault("store.influxdb.timeout", st.InfluxDB.Timeout)
	v.SetDefault("store.sqlite.db_path", st.SQLite.DBPath)
	v.SetDefault("store.sqlite.batch_size", st.SQLite.BatchSize)
	v.SetDefault("store.sqlite.batch_timeout", st.SQLite.BatchTimeout)
	v.SetDefault("store.retry.max_retries", st.Retry.MaxRetries)
	v.SetDefault("store.retry.initial_interval", st.Retry.InitialInterval)
	v.SetDefault("store.retry.max_interval", st.Retry.MaxInterval)
	v.SetDefault("store.retry.max_elapsed", st.Retry.MaxElapsed)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "pzem.alerts")
	v.SetDefault("kafka.write_timeout", 10*time.Second)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("pzemd", pflag.ContinueOnError)
	fs.String("config", "", "Path to TOML config file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.String("pid-file", "", "Path to PID file")
	fs.String("timezone", "", "Billing time zone (IANA name or offset such as +07:00)")
	fs.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.StringSlice("mqtt-topics", nil, "MQTT topics carrying meter readings")
	fs.String("store-backend", "", "Store backend (influxdb, sqlite)")
	fs.String("http-listen", "", "Status API listen address, empty to disable")
	return fs
}

var flagKeys = map[string]string{
	"log-level":     "log_level",
	"pid-file":      "pid_file",
	"timezone":      "timezone",
	"mqtt-broker":   "mqtt.broker",
	"mqtt-topics":   "mqtt.topics",
	"store-backend": "store.backend",
	"http-listen":   "http.listen",
}

// Load reads configuration from args (without the program name), the
// environment and the config file, then validates it.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	errFactory := errors.New()

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(configEnv)
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(DefaultConfigDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}
	return nil
}

// Validate checks every section and builds the tariff and calendar.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	tiers := make([]billing.Tier, 0, len(c.Billing.Tiers))
	for _, t := range c.Billing.Tiers {
		tiers = append(tiers, billing.Tier{Width: t.Width, Price: t.Price})
	}
	schedule, err := billing.NewSchedule(tiers, c.Billing.VATRate)
	if err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	c.schedule = schedule

	loc, err := period.ParseLocation(c.Timezone)
	if err != nil {
		return errFactory.Wrap(errors.ErrInvalidTimezone, err)
	}
	calendar, err := period.New(loc, c.Billing.ResetTime, c.Billing.MonthStartDay)
	if err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	c.calendar = calendar

	if r := c.Validation.ResetDropRatio; r <= 0 || r >= 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "validation.reset_drop_ratio must be between 0 and 1")
	}
	if c.Validation.MinFrequency > c.Validation.MaxFrequency {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "validation.min_frequency exceeds max_frequency")
	}

	if c.Health.Interval <= 0 || c.Health.StaleAfter <= 0 || c.SummaryInterval <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidInterval, "health and summary intervals must be positive")
	}

	if err := c.MQTT.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrMissingConfig, err)
	}
	if err := c.Store.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrMissingConfig, err)
	}
	if c.KafkaEnabled() {
		if err := c.Kafka.Validate(); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	return nil
}
