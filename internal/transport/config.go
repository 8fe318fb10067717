package transport

import (
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
)

// Config describes the MQTT broker connection.
type Config struct {
	Broker               string        `mapstructure:"broker"`
	ClientID             string        `mapstructure:"client_id"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	Topics               []string      `mapstructure:"topics"`
	QoS                  byte          `mapstructure:"qos"`
	KeepAlive            time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
}

func DefaultConfig() Config {
	return Config{
		ClientID:             "pzemd",
		Topics:               []string{"pzem/data"},
		QoS:                  1,
		KeepAlive:            60 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectInterval: time.Minute,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Broker == "" {
		return errFactory.New(ErrMissingBroker)
	}
	if len(c.Topics) == 0 {
		return errFactory.New(ErrMissingTopics)
	}
	for _, topic := range c.Topics {
		if topic == "" {
			return errFactory.WithMessage(ErrMissingTopics, "empty topic")
		}
	}
	if c.QoS > 2 {
		return errFactory.WithData(ErrInvalidQoS, c.QoS)
	}
	return nil
}
