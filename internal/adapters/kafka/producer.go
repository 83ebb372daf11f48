package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"optionsurface/pkg/logger"
)

// Producer handles Kafka message publishing
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	log     *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers []string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: cfg.Brokers,
		log:     logger.Get().With("component", "kafka_producer"),
	}
}

// getWriter returns or creates a writer for a topic
func (p *Producer) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same natural key, same partition
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	p.writers[topic] = w
	return w
}

// Publish sends one JSON-encoded event to a topic
func (p *Producer) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.PublishBatch(ctx, topic, []kafka.Message{{Key: []byte(key), Value: data}})
}

// PublishBatch sends multiple messages to a topic
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if err := p.getWriter(topic).WriteMessages(ctx, messages...); err != nil {
		p.log.Errorw("Failed to publish batch", "topic", topic, "messages", len(messages), "error", err)
		return err
	}

	p.log.Debugf("Published %d messages to %s", len(messages), topic)
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorf("Failed to close writer for %s: %v", topic, err)
			return err
		}
	}
	return nil
}
