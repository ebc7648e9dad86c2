package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdigest/pkg/logger"
)

type mockWriter struct {
	written    []kafka.Message
	shouldFail bool
	closed     bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.shouldFail {
		return errors.New("broker unavailable")
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestPublishRunCompleted(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w, logger.NewNopLogger())

	finished := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	err := p.PublishRunCompleted(context.Background(), RunCompleted{
		RunID:      "r1",
		UserID:     "u1",
		Handle:     "alice",
		Outcome:    "SUCCESS",
		Posts:      2,
		FinishedAt: finished,
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)

	msg := w.written[0]
	assert.Equal(t, "u1", string(msg.Key))
	assert.Equal(t, finished, msg.Time)

	var ev RunCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "alice", ev.Handle)
	assert.Equal(t, 2, ev.Posts)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishRunCompletedFailure(t *testing.T) {
	p := NewPublisher(&mockWriter{shouldFail: true}, logger.NewNopLogger())
	err := p.PublishRunCompleted(context.Background(), RunCompleted{UserID: "u1"})
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.PublishRunCompleted(context.Background(), RunCompleted{}))
	assert.NoError(t, p.Close())
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, logger.NewNopLogger())
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, logger.NewNopLogger())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
