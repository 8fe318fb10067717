package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/meter"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func resetAnomaly() *meter.Anomaly {
	return meter.NewDetector(0.5).CheckForReset(1000, 10, time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC))
}

func TestMessage(t *testing.T) {
	a := resetAnomaly()
	require.NotNil(t, a)

	msg, err := Message(a)
	require.NoError(t, err)

	assert.Equal(t, a.ID, string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "counter_reset", string(msg.Headers[0].Value))
	assert.Equal(t, "critical", string(msg.Headers[1].Value))

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "pzemd", ev.Source)
	assert.Equal(t, "counter_reset", ev.Kind)
	assert.Equal(t, 1000.0, ev.OldEnergy)
	assert.Equal(t, 10.0, ev.NewEnergy)
	assert.InDelta(t, 0.01, ev.DropRatio, 1e-9)
}

func TestMessageAssignsMissingID(t *testing.T) {
	msg, err := Message(&meter.Anomaly{Kind: meter.KindValidationFailure})
	require.NoError(t, err)
	assert.Len(t, string(msg.Key), 36)
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "pzem.alerts", nil)

	require.NoError(t, p.Publish(context.Background(), resetAnomaly()))
	assert.Len(t, w.msgs, 1)

	w.err = fmt.Errorf("broker down")
	err := p.Publish(context.Background(), resetAnomaly())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrPublish))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestConfigValidate(t *testing.T) {
	err := Config{Topic: "pzem.alerts"}.Validate()
	assert.True(t, errors.HasCode(err, ErrMissingBrokers))

	err = Config{Brokers: []string{"localhost:9092"}}.Validate()
	assert.True(t, errors.HasCode(err, ErrMissingTopic))

	p, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "pzem.alerts"}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
