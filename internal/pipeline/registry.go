package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/couchcryptid/lightning-dispatch/internal/observability"
	"github.com/couchcryptid/lightning-dispatch/internal/spatial"
)

// RegistryMirror applies device-registry events to the spatial index.
// Registry data is eventually consistent with strike processing; an update
// landing mid-query is tolerated and bounded by the next cycle.
type RegistryMirror struct {
	extractor BatchExtractor
	index     *spatial.Index
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// NewRegistryMirror creates the registry apply loop.
func NewRegistryMirror(e BatchExtractor, index *spatial.Index, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *RegistryMirror {
	return &RegistryMirror{
		extractor: e,
		index:     index,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Run applies registry events until the context is cancelled.
func (r *RegistryMirror) Run(ctx context.Context) error {
	r.logger.Info("registry mirror started")

	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("registry mirror stopping", "reason", ctx.Err())
			return nil
		default:
		}

		batch, err := r.extractor.ExtractBatch(ctx, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("extract registry batch failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		for _, raw := range batch {
			r.apply(ctx, raw)
		}
		r.metrics.RegisteredDevices.Set(float64(r.index.Len()))
	}
}

func (r *RegistryMirror) apply(ctx context.Context, raw domain.RawEvent) {
	var ev domain.RegistryEvent
	if err := json.Unmarshal(raw.Value, &ev); err != nil {
		r.logger.Warn("malformed registry event, skipping",
			"error", err, "offset", raw.Offset)
		r.commitOffset(ctx, raw)
		return
	}

	switch ev.Op {
	case domain.RegistryOpUpsert:
		r.index.Upsert(ev.Device)
		r.logger.Debug("device upserted",
			"device_id", ev.Device.DeviceID,
			"status", ev.Device.Status,
			"radius_km", ev.Device.AlertRadiusKm,
		)
	case domain.RegistryOpRemove:
		r.index.Remove(ev.Device.DeviceID)
		r.logger.Debug("device removed", "device_id", ev.Device.DeviceID)
	default:
		r.logger.Warn("unknown registry op, skipping", "op", ev.Op)
	}

	r.commitOffset(ctx, raw)
}

func (r *RegistryMirror) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		r.logger.Warn("commit registry offset failed", "error", err, "offset", raw.Offset)
	}
}
