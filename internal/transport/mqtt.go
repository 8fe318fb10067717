// Package transport receives meter payloads from an MQTT broker.
package transport

import (
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const disconnectQuiesce = 250 // milliseconds

// Handler receives the raw payload of every message on a subscribed topic.
type Handler func(payload []byte)

// Subscriber keeps a subscription alive across broker reconnects.
type Subscriber struct {
	cfg     Config
	handler Handler
	client  mqtt.Client
	log     logger.Logger
}

func New(cfg Config, handler Handler, log logger.Logger) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.With("transport")
	}

	s := &Subscriber{
		cfg:     cfg,
		handler: handler,
		log:     log,
	}
	s.client = mqtt.NewClient(s.clientOptions())

	return s, nil
}

func (s *Subscriber) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	if s.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(s.cfg.KeepAlive)
	}
	if s.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	}
	if s.cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(s.cfg.MaxReconnectInterval)
	}

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn().Err(err).Str("broker", s.cfg.Broker).Msg("MQTT connection lost, reconnecting")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.log.Debug().Str("broker", s.cfg.Broker).Msg("MQTT reconnecting")
	})

	return opts
}

// Start connects to the broker. If the broker is not reachable within the
// connect timeout the client keeps retrying in the background and Start
// returns nil; only a definitive connection error is returned.
func (s *Subscriber) Start() error {
	token := s.client.Connect()

	timeout := s.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if !token.WaitTimeout(timeout) {
		s.log.Warn().Str("broker", s.cfg.Broker).Msg("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return errors.New().Wrap(ErrConnect, err)
	}
	return nil
}

// onConnect runs after every successful (re)connect. The session is clean,
// so subscriptions are renewed each time.
func (s *Subscriber) onConnect(c mqtt.Client) {
	filters := make(map[string]byte, len(s.cfg.Topics))
	for _, topic := range s.cfg.Topics {
		filters[topic] = s.cfg.QoS
	}

	token := c.SubscribeMultiple(filters, s.onMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.log.Error().Err(err).Strs("topics", s.cfg.Topics).Msg("MQTT subscribe failed")
			return
		}
		s.log.Info().Str("broker", s.cfg.Broker).Strs("topics", s.cfg.Topics).Msg("MQTT subscribed")
	}()
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.log.Debug().Str("topic", msg.Topic()).Int("bytes", len(msg.Payload())).Msg("MQTT message")
	if s.handler != nil {
		s.handler(msg.Payload())
	}
}

// IsConnected reports whether the broker connection is currently up.
func (s *Subscriber) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *Subscriber) Close() {
	s.client.Disconnect(disconnectQuiesce)
	s.log.Info().Msg("MQTT disconnected")
}
