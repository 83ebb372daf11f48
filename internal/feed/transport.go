package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"optionsurface/internal/adapters/kafka"
	"optionsurface/internal/metrics"
	"optionsurface/pkg/errors"
)

// ChanTransport is an in-process Transport fed by a push-style source such
// as a websocket client callback.
type ChanTransport struct {
	ch        chan [][]byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewChanTransport creates a transport buffering up to size batches
func NewChanTransport(size int) *ChanTransport {
	if size <= 0 {
		size = 1024
	}
	return &ChanTransport{
		ch:   make(chan [][]byte, size),
		done: make(chan struct{}),
	}
}

// Push hands a batch to the pipeline. It blocks while the buffer is full and
// returns ErrTransportClosed after Close.
func (t *ChanTransport) Push(ctx context.Context, batch [][]byte) error {
	select {
	case <-t.done:
		return errors.ErrTransportClosed
	default:
	}

	select {
	case t.ch <- batch:
		return nil
	case <-t.done:
		return errors.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements Transport
func (t *ChanTransport) Receive(ctx context.Context) ([][]byte, error) {
	select {
	case batch := <-t.ch:
		return batch, nil
	case <-t.done:
		return nil, errors.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Transport
func (t *ChanTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// KafkaTransport consumes ticks relayed through a Kafka topic. A message
// value is either one payload or a JSON array of payloads.
type KafkaTransport struct {
	consumer *kafka.Consumer
	topic    string
}

// NewKafkaTransport wraps a consumer
func NewKafkaTransport(consumer *kafka.Consumer, topic string) *KafkaTransport {
	return &KafkaTransport{consumer: consumer, topic: topic}
}

// Receive implements Transport
func (t *KafkaTransport) Receive(ctx context.Context) ([][]byte, error) {
	msg, err := t.consumer.ReadMessageWithShutdownCheck(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, kafkago.ErrGroupClosed) {
			return nil, errors.Wrap(errors.ErrTransportClosed, err.Error())
		}
		return nil, errors.Wrap(err, "read tick message")
	}
	metrics.KafkaMessages.WithLabelValues(t.topic, "consumed").Inc()

	return SplitBatch(msg.Value)
}

// Close implements Transport
func (t *KafkaTransport) Close() error {
	return t.consumer.Close()
}

// SplitBatch splits a JSON array of payloads into individual messages.
// Any other value is returned as a batch of one.
func SplitBatch(value []byte) ([][]byte, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return [][]byte{trimmed}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedMessage, "tick batch: %v", err)
	}
	batch := make([][]byte, 0, len(items))
	for _, item := range items {
		batch = append(batch, item)
	}
	return batch, nil
}
