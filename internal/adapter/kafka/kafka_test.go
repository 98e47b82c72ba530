package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawEvent(t *testing.T) {
	ts := time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC)
	msg := kafkago.Message{
		Key:       []byte("strike-001"),
		Value:     []byte(`{"latitude":"1.3521"}`),
		Topic:     "raw-lightning-strikes",
		Partition: 2,
		Offset:    42,
		Time:      ts,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("nea")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("strike-001"), raw.Key)
	assert.Equal(t, []byte(`{"latitude":"1.3521"}`), raw.Value)
	assert.Equal(t, "raw-lightning-strikes", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, ts, raw.Timestamp)
	assert.Equal(t, map[string]string{"source": "nea"}, raw.Headers)
	assert.Nil(t, raw.Commit, "commit is attached by the reader, not the mapper")
}

func TestMapMessageToRawEvent_NoHeaders(t *testing.T) {
	raw := mapMessageToRawEvent(kafkago.Message{Key: []byte("k")})
	assert.Empty(t, raw.Headers)
}

func TestSerializeCommand(t *testing.T) {
	generatedAt := time.Date(2026, 8, 14, 15, 4, 5, 0, time.UTC)
	payload := domain.CommandPayload{
		IntentID:    "dev-1/strike-abc",
		Command:     domain.CommandActivate,
		StrikeID:    "strike-abc",
		DistanceKm:  6.7,
		GeneratedAt: generatedAt,
	}

	msg, err := serializeCommand("dev-1", payload)
	require.NoError(t, err)

	assert.Equal(t, []byte("dev-1"), msg.Key, "commands are keyed by device for per-device ordering")

	var decoded domain.CommandPayload
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, payload, decoded)

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "ACTIVATE", headers["command"])
	assert.Equal(t, "2026-08-14T15:04:05Z", headers["generated_at"])
}
