// Package kafka adapts the dispatcher's topic contracts to kafka-go.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes raw messages from one topic as part of a consumer group.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a consumer-group reader for the given topic.
// flushInterval bounds how long ExtractBatch waits for the first message
// before returning an empty batch.
func NewReader(brokers []string, topic, groupID string, flushInterval time.Duration, logger *slog.Logger) *Reader {
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{reader: r, flushInterval: flushInterval, logger: logger}
}

// ExtractBatch reads up to batchSize messages. It blocks up to the flush
// interval for the first message, then drains whatever else is immediately
// available. An empty batch is a quiet poll, not an error.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	batch := make([]domain.RawEvent, 0, batchSize)
	deadline := time.Now().Add(r.flushInterval)

	for len(batch) < batchSize {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := r.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break // flush what we have
			}
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			return batch, err
		}

		raw := mapMessageToRawEvent(msg)
		raw.Commit = func(commitCtx context.Context) error {
			return r.reader.CommitMessages(commitCtx, msg)
		}
		batch = append(batch, raw)
	}

	return batch, nil
}

// Close releases the underlying consumer group membership.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawEvent copies a Kafka message into the transport-agnostic
// raw event the pipeline stages consume.
func mapMessageToRawEvent(msg kafkago.Message) domain.RawEvent {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawEvent{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
