// Package alert forwards anomaly records to a Kafka topic.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	"codeberg.org/mutker/pzemd/internal/meter"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	ErrMissingBrokers = errors.ErrorCode("alert_missing_brokers")
	ErrMissingTopic   = errors.ErrorCode("alert_missing_topic")
	ErrEncode         = errors.ErrorCode("alert_encode_failed")
	ErrPublish        = errors.ErrorCode("alert_publish_failed")
)

const sourceName = "pzemd"

type Config struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if len(c.Brokers) == 0 {
		return errFactory.New(ErrMissingBrokers)
	}
	if c.Topic == "" {
		return errFactory.New(ErrMissingTopic)
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON value of each published message.
type Event struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Severity  string    `json:"severity"`
	OldEnergy float64   `json:"old_energy"`
	NewEnergy float64   `json:"new_energy"`
	DropRatio float64   `json:"energy_drop_ratio"`
	Reasons   []string  `json:"reasons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher struct {
	writer messageWriter
	topic  string
	log    logger.Logger
}

func New(cfg Config, log logger.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	if cfg.WriteTimeout > 0 {
		w.WriteTimeout = cfg.WriteTimeout
	}

	return newPublisher(w, cfg.Topic, log), nil
}

func newPublisher(w messageWriter, topic string, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.With("alert")
	}
	return &Publisher{writer: w, topic: topic, log: log}
}

// Message builds the Kafka message for a. Messages are keyed by anomaly id.
func Message(a *meter.Anomaly) (kafka.Message, error) {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}

	value, err := json.Marshal(Event{
		ID:        id,
		Source:    sourceName,
		Kind:      string(a.Kind),
		Severity:  string(a.Severity),
		OldEnergy: a.OldValue,
		NewEnergy: a.NewValue,
		DropRatio: a.DropRatio,
		Reasons:   a.Reasons,
		Timestamp: a.Timestamp.UTC(),
	})
	if err != nil {
		return kafka.Message{}, errors.New().Wrap(ErrEncode, err)
	}

	return kafka.Message{
		Key:   []byte(id),
		Value: value,
		Time:  a.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, a *meter.Anomaly) error {
	msg, err := Message(a)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}

	p.log.Debug().Str("topic", p.topic).Str("kind", string(a.Kind)).Str("id", string(msg.Key)).Msg("Anomaly published")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
