package pipeline_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/couchcryptid/lightning-dispatch/internal/observability"
	"github.com/couchcryptid/lightning-dispatch/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAckHandler struct {
	mu   sync.Mutex
	acks []string
}

func (h *recordingAckHandler) OnAck(deviceID, intentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, deviceID+":"+intentID)
}

func TestAckDrain_FeedsHandlerAndCommits(t *testing.T) {
	value, err := json.Marshal(domain.AckPayload{
		DeviceID:   "dev-1",
		IntentID:   "dev-1/strike-abc",
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	committed := 0
	raw := domain.RawEvent{
		Key:    []byte("dev-1"),
		Value:  value,
		Commit: func(context.Context) error { committed++; return nil },
	}

	handler := &recordingAckHandler{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	drain := pipeline.NewAckDrain(ext, handler,
		slog.Default(), observability.NewMetricsForTesting(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, drain.Run(ctx))

	assert.Equal(t, []string{"dev-1:dev-1/strike-abc"}, handler.acks)
	assert.Equal(t, 1, committed)
}

func TestAckDrain_MalformedAckCommittedWithoutHandler(t *testing.T) {
	committed := 0
	raw := domain.RawEvent{
		Key:    []byte("dev-1"),
		Value:  []byte("{{"),
		Commit: func(context.Context) error { committed++; return nil },
	}

	handler := &recordingAckHandler{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	drain := pipeline.NewAckDrain(ext, handler,
		slog.Default(), observability.NewMetricsForTesting(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, drain.Run(ctx))

	assert.Empty(t, handler.acks)
	assert.Equal(t, 1, committed, "poison acks still advance the offset")
}
