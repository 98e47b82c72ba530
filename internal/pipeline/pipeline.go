// Package pipeline runs the long-lived server loops: strike ingestion,
// registry mirroring, and ack draining.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/dedup"
	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/couchcryptid/lightning-dispatch/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from a source topic.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Deduplicator collapses raw feed records into new strike events.
type Deduplicator interface {
	Ingest(raw domain.RawEvent) (*domain.StrikeEvent, error)
}

// Matcher fans a strike out into per-device alert intents.
type Matcher interface {
	Match(event domain.StrikeEvent) []domain.AlertIntent
}

// Submitter accepts intents for delivery.
type Submitter interface {
	Submit(intent domain.AlertIntent)
}

// Pipeline orchestrates the ingest → dedup → match → dispatch loop.
type Pipeline struct {
	extractor BatchExtractor
	dedup     Deduplicator
	matcher   Matcher
	submitter Submitter
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, d Deduplicator, m Matcher, s Submitter, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		dedup:     d,
		matcher:   m,
		submitter: s,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has processed at least one
// batch, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any strike batches yet")
	}
	return nil
}

// Run executes the ingest loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("ingest pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingest pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-dedup-match-dispatch cycle. Returns false
// if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	// An empty poll is not an error; the feed is quiet between storms.
	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	for _, raw := range rawBatch {
		p.processRecord(ctx, raw)
	}

	p.ready.Store(true)
	return true
}

// processRecord ingests one raw reading. Malformed and duplicate readings
// are dropped locally and their offsets committed; both are expected, not
// errors the loop can act on.
func (p *Pipeline) processRecord(ctx context.Context, raw domain.RawEvent) {
	event, err := p.dedup.Ingest(raw)
	if err != nil {
		if dedup.IsMalformed(err) {
			p.logger.Warn("malformed strike record, skipping",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.StrikesMalformed.Inc()
			p.commitOffset(ctx, raw)
			return
		}
		p.logger.Error("ingest failed", "error", err)
		return
	}

	if event == nil {
		p.metrics.StrikesDuplicate.Inc()
		p.commitOffset(ctx, raw)
		return
	}

	p.metrics.StrikesIngested.Inc()
	if !event.InServiceArea() {
		p.metrics.StrikesOutOfArea.Inc()
		p.logger.Warn("strike outside service area",
			"strike_id", event.ID, "lat", event.Lat, "lon", event.Lon)
	}

	start := time.Now()
	intents := p.matcher.Match(*event)
	p.metrics.MatchDuration.Observe(time.Since(start).Seconds())

	for _, intent := range intents {
		p.submitter.Submit(intent)
	}
	p.metrics.IntentsGenerated.Add(float64(len(intents)))

	p.commitOffset(ctx, raw)
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the pipeline should
// stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
