package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"optionsurface/pkg/logger"
)

// Consumer handles Kafka message consumption
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 100 * time.Millisecond
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}

	log := logger.Get().With("component", "kafka_consumer", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.LastOffset, // live ticks only
	})

	log.Infow("Kafka consumer created",
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
		"topic", cfg.Topic,
	)

	return &Consumer{
		reader: reader,
		log:    log,
	}
}

// ReadMessageWithShutdownCheck returns ctx.Err() without touching the
// reader when shutdown was already requested.
func (c *Consumer) ReadMessageWithShutdownCheck(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, err
	}

	return msg, nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
