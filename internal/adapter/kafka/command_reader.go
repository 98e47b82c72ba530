package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// CommandReader subscribes a single device to the shared command topic and
// yields only the commands addressed to it. It implements
// device.CommandSource.
//
// Each device uses its own consumer group so every device sees the full
// topic and filters by message key; command volume per device is tiny, so
// the over-read is cheap compared to per-device topics.
type CommandReader struct {
	reader   *kafkago.Reader
	deviceID string
	logger   *slog.Logger
}

// NewCommandReader creates the device's command subscription.
func NewCommandReader(brokers []string, topic, deviceID string, logger *slog.Logger) *CommandReader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "device-" + deviceID,
		StartOffset: kafkago.LastOffset,
	})
	return &CommandReader{reader: r, deviceID: deviceID, logger: logger}
}

// Receive blocks until the next command addressed to this device arrives.
// Messages for other devices and unparsable payloads are skipped.
func (r *CommandReader) Receive(ctx context.Context) (domain.CommandPayload, error) {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			return domain.CommandPayload{}, err
		}
		if string(msg.Key) != r.deviceID {
			continue
		}

		var payload domain.CommandPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			r.logger.Warn("malformed command, skipping",
				"error", err, "offset", msg.Offset)
			continue
		}
		return payload, nil
	}
}

// Close releases the consumer group membership.
func (r *CommandReader) Close() error {
	return r.reader.Close()
}
