package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher fans appended notifications out to other consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// publishBatchTimeout caps how long a partial batch waits before it is flushed.
const publishBatchTimeout = 10 * time.Millisecond

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("KAFKA_TOPIC must be set")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           publishBatchTimeout,
		// Publish returns once the message is queued; delivery failures surface in Completion.
		Async:      true,
		Completion: logDelivery,
	}
	logger.L().Info("Kafka publisher initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaPublisher{writer: w, topic: topic}, nil
}

// Publish keys messages by recipient so one recipient's events stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.RecipientEmail),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish notification %s to %s: %w", event.ID, p.topic, err)
	}
	return nil
}

func logDelivery(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	keys := make([]string, 0, len(messages))
	for _, m := range messages {
		keys = append(keys, string(m.Key))
	}
	logger.L().Warn("Failed to deliver notification events", zap.Strings("recipients", keys), zap.Error(err))
}

// Close flushes queued messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// NewPublisher returns a Kafka publisher when KAFKA_BROKERS is set and a no-op one otherwise.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config) (Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.L().Info("KAFKA_BROKERS not set, notification events will not be published")
		return NoopPublisher{}, nil
	}
	p, err := NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.L().Info("Closing Kafka publisher")
			return p.Close()
		},
	})
	return p, nil
}
