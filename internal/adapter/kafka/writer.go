package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
)

// CommandWriter publishes device commands to the command topic, keyed by
// device ID so one device's commands stay on one partition.
// It implements dispatch.Publisher.
type CommandWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewCommandWriter creates a producer for the command topic.
func NewCommandWriter(brokers []string, topic string, logger *slog.Logger) *CommandWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &CommandWriter{writer: w, logger: logger}
}

// Publish serializes and sends one command to a device's channel.
func (w *CommandWriter) Publish(ctx context.Context, deviceID string, payload domain.CommandPayload) error {
	msg, err := serializeCommand(deviceID, payload)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *CommandWriter) Close() error {
	return w.writer.Close()
}

// serializeCommand marshals a command payload into a Kafka message.
func serializeCommand(deviceID string, payload domain.CommandPayload) (kafkago.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize command: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(deviceID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "command", Value: []byte(payload.Command)},
			{Key: "generated_at", Value: []byte(payload.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}

// AckWriter publishes delivery acknowledgments from the device side.
// It implements device.AckSink.
type AckWriter struct {
	writer   *kafkago.Writer
	deviceID string
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewAckWriter creates a producer for the ack topic on behalf of one device.
func NewAckWriter(brokers []string, topic, deviceID string, clock clockwork.Clock, logger *slog.Logger) *AckWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &AckWriter{writer: w, deviceID: deviceID, clock: clock, logger: logger}
}

// Ack publishes one acknowledgment.
func (w *AckWriter) Ack(ctx context.Context, intentID string) error {
	data, err := json.Marshal(domain.AckPayload{
		DeviceID:   w.deviceID,
		IntentID:   intentID,
		ReceivedAt: w.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("serialize ack: %w", err)
	}
	return w.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(w.deviceID),
		Value: data,
	})
}

func (w *AckWriter) Close() error {
	return w.writer.Close()
}
