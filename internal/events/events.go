package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"xdigest/pkg/logger"
)

// Writer is the subset of *kafka.Writer the publisher needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunCompleted is published once per finished orchestration run
type RunCompleted struct {
	RunID      string    `json:"run_id"`
	UserID     string    `json:"user_id"`
	Handle     string    `json:"handle"`
	Outcome    string    `json:"outcome"`
	Source     string    `json:"source,omitempty"`
	Accounts   int       `json:"accounts"`
	Posts      int       `json:"posts"`
	Degraded   int       `json:"degraded"`
	Artifact   string    `json:"artifact,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher sends run events to a Kafka topic. A nil *Publisher is valid
// and publishes nothing.
type Publisher struct {
	writer Writer
	logger logger.Logger
}

// KafkaConfig holds connection settings for the publisher
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic. Messages are
// keyed by user id so one user's runs stay ordered on a partition.
func NewKafkaPublisher(cfg KafkaConfig, log logger.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return NewPublisher(w, log), nil
}

// NewPublisher wraps an existing writer
func NewPublisher(w Writer, log logger.Logger) *Publisher {
	return &Publisher{
		writer: w,
		logger: logger.OrGlobal(log).WithField("component", "events"),
	}
}

// PublishRunCompleted sends ev. Errors are returned for the caller to log;
// they never change a run's outcome.
func (p *Publisher) PublishRunCompleted(ctx context.Context, ev RunCompleted) error {
	if p == nil || p.writer == nil {
		return nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode run event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.UserID),
		Value: value,
		Time:  ev.FinishedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("run.completed")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	p.logger.DebugWithFields("Run event published", map[string]interface{}{
		"run_id":  ev.RunID,
		"outcome": ev.Outcome,
	})
	return nil
}

// Close closes the underlying writer
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
