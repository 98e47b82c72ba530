package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/couchcryptid/lightning-dispatch/internal/observability"
)

// AckHandler consumes device acknowledgments for delivery bookkeeping.
type AckHandler interface {
	OnAck(deviceID, intentID string)
}

// AckDrain feeds device acks into the dispatch coordinator. Fully
// asynchronous: a slow ack stream never stalls strike matching.
type AckDrain struct {
	extractor BatchExtractor
	handler   AckHandler
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// NewAckDrain creates the ack loop.
func NewAckDrain(e BatchExtractor, h AckHandler, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *AckDrain {
	return &AckDrain{
		extractor: e,
		handler:   h,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Run applies acknowledgments until the context is cancelled.
func (a *AckDrain) Run(ctx context.Context) error {
	a.logger.Info("ack drain started")

	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("ack drain stopping", "reason", ctx.Err())
			return nil
		default:
		}

		batch, err := a.extractor.ExtractBatch(ctx, a.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("extract ack batch failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		for _, raw := range batch {
			a.apply(ctx, raw)
		}
	}
}

func (a *AckDrain) apply(ctx context.Context, raw domain.RawEvent) {
	var ack domain.AckPayload
	if err := json.Unmarshal(raw.Value, &ack); err != nil {
		a.logger.Warn("malformed ack, skipping", "error", err, "offset", raw.Offset)
	} else {
		a.handler.OnAck(ack.DeviceID, ack.IntentID)
	}

	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		a.logger.Warn("commit ack offset failed", "error", err, "offset", raw.Offset)
	}
}
