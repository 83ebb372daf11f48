package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"optionsurface/internal/adapters/kafka"
	"optionsurface/internal/domain/surface"
	"optionsurface/internal/metrics"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// Compile-time check
var _ surface.Sink = (*Publisher)(nil)

// Message headers
const (
	HeaderRunID = "run_id"
	HeaderType  = "type"
)

// Event types carried in the type header
const (
	TypeSnapshot   = "snapshot"
	TypeOptionCalc = "option_calc"
	TypeStraddle   = "straddle"
)

// BatchPublisher is the part of kafka.Producer the publisher needs
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []kafkago.Message) error
}

// Publisher publishes analytics output to Kafka, one message per row, keyed
// by the row's natural key so consumers can deduplicate redeliveries.
type Publisher struct {
	producer BatchPublisher
	log      *logger.Logger
}

// NewPublisher creates a new analytics publisher
func NewPublisher(producer BatchPublisher, log *logger.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		log:      log.With("component", "surface_publisher"),
	}
}

// snapshotEvent is the wire shape of a published snapshot
type snapshotEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Quotes    interface{} `json:"quotes"`
}

// InsertSnapshot implements surface.Sink
func (p *Publisher) InsertSnapshot(ctx context.Context, snap surface.SnapshotRecord) error {
	data, err := json.Marshal(snapshotEvent{Timestamp: snap.Timestamp.UTC(), Quotes: snap.Quotes})
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	key := snap.Timestamp.UTC().Format(time.RFC3339)
	msg := kafkago.Message{Key: []byte(key), Value: data, Headers: p.headers(ctx, TypeSnapshot)}
	return p.send(ctx, kafka.TopicSnapshots, TypeSnapshot, []kafkago.Message{msg})
}

// InsertOptionCalc implements surface.Sink
func (p *Publisher) InsertOptionCalc(ctx context.Context, rows []surface.OptionCalcRow) error {
	headers := p.headers(ctx, TypeOptionCalc)
	messages := make([]kafkago.Message, 0, len(rows))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return errors.Wrapf(err, "marshal option row %s", row.Symbol)
		}
		messages = append(messages, kafkago.Message{Key: []byte(row.Key()), Value: data, Headers: headers})
	}
	return p.send(ctx, kafka.TopicOptionCalc, TypeOptionCalc, messages)
}

// InsertStraddle implements surface.Sink
func (p *Publisher) InsertStraddle(ctx context.Context, rows []surface.StraddleRow) error {
	headers := p.headers(ctx, TypeStraddle)
	messages := make([]kafkago.Message, 0, len(rows))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return errors.Wrapf(err, "marshal straddle row %s %v", row.Underlying, row.Strike)
		}
		messages = append(messages, kafkago.Message{Key: []byte(row.Key()), Value: data, Headers: headers})
	}
	return p.send(ctx, kafka.TopicStraddles, TypeStraddle, messages)
}

func (p *Publisher) headers(ctx context.Context, eventType string) []kafkago.Header {
	headers := []kafkago.Header{{Key: HeaderType, Value: []byte(eventType)}}
	if id, ok := RunIDFrom(ctx); ok {
		headers = append(headers, kafkago.Header{Key: HeaderRunID, Value: []byte(id.String())})
	}
	return headers
}

func (p *Publisher) send(ctx context.Context, topic, eventType string, messages []kafkago.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if err := p.producer.PublishBatch(ctx, topic, messages); err != nil {
		return errors.Wrap(err, "send to kafka")
	}

	metrics.KafkaMessages.WithLabelValues(topic, eventType).Add(float64(len(messages)))
	p.log.Debugw("Events published", "topic", topic, "messages", len(messages))
	return nil
}
