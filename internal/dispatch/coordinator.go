// Package dispatch delivers alert intents to devices with at-least-once
// semantics: bounded retries with exponential backoff, asynchronous
// acknowledgment tracking, and storm coalescing under backpressure.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/couchcryptid/lightning-dispatch/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Publisher pushes one command payload to a device's command channel.
type Publisher interface {
	Publish(ctx context.Context, deviceID string, payload domain.CommandPayload) error
}

// Options tunes the delivery policy.
type Options struct {
	Workers        int
	MaxAttempts    int
	RetryBackoff   time.Duration // first retry delay, doubled per attempt
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration // transport I/O bound per attempt
	QueueCapacity  int
	CoalesceDepth  int // queue depth at which same-device intents merge
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 60 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	if o.CoalesceDepth <= 0 {
		o.CoalesceDepth = o.QueueCapacity / 4
	}
	return o
}

// deliveryRecord tracks one in-flight intent. Owned exclusively by the
// Coordinator; destroyed on ack or after the retry budget is exhausted.
type deliveryRecord struct {
	intent       domain.AlertIntent
	attemptCount int
	lastAttempt  time.Time
	published    bool // a worker has sent this record's payload at least once
}

// Coordinator owns the outbound queue and delivery bookkeeping. Duplicate
// delivery is tolerated and expected: the device state machine is
// idempotent to repeated ACTIVATE commands, so the coordinator favors
// over-delivery over missed delivery.
type Coordinator struct {
	opts    Options
	pub     Publisher
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	records  map[string]*deliveryRecord // by intent ID
	byDevice map[string]string          // device ID -> pending intent ID
	queue    chan string
}

// New creates a Coordinator. Call Run to start the worker pool.
func New(pub Publisher, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		opts:     opts,
		pub:      pub,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		records:  make(map[string]*deliveryRecord),
		byDevice: make(map[string]string),
		queue:    make(chan string, opts.QueueCapacity),
	}
}

// Run drains the outbound queue with the configured worker pool until the
// context is cancelled. One slow device never stalls the others: workers
// bound every transport attempt with AttemptTimeout and ack handling is
// fully asynchronous.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("dispatch coordinator started",
		"workers", c.opts.Workers,
		"max_attempts", c.opts.MaxAttempts,
	)

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx)
		}()
	}
	wg.Wait()
	c.logger.Info("dispatch coordinator stopped", "reason", ctx.Err())
	return nil
}

// Submit enqueues an intent for delivery. Above the coalesce depth, a new
// intent for a device that already has a pending delivery merges into it,
// carrying the most recent strike's payload; the queue never grows
// unboundedly during a storm.
func (c *Coordinator) Submit(intent domain.AlertIntent) {
	id := intent.IntentID()

	c.mu.Lock()
	if _, exists := c.records[id]; exists {
		// Same (device, strike) already tracked; at-least-once covers it.
		c.mu.Unlock()
		return
	}

	// Merge only into records no worker has sent yet. A published record
	// can be acked and destroyed at any moment, which would drop the merged
	// strike's payload before it ever ships.
	if len(c.queue) >= c.opts.CoalesceDepth {
		if pendingID, ok := c.byDevice[intent.DeviceID]; ok {
			if rec, ok := c.records[pendingID]; ok && !rec.published {
				rec.intent = intent
				c.mu.Unlock()
				c.metrics.DispatchCoalesced.Inc()
				return
			}
		}
	}

	c.records[id] = &deliveryRecord{intent: intent}
	c.byDevice[intent.DeviceID] = id
	c.mu.Unlock()

	c.enqueue(id)
}

// OnAck marks an intent delivered and destroys its record. Acks for
// unknown intents (already abandoned, or duplicates) are no-ops.
func (c *Coordinator) OnAck(deviceID, intentID string) {
	c.mu.Lock()
	rec, ok := c.records[intentID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.records, intentID)
	if c.byDevice[rec.intent.DeviceID] == intentID {
		delete(c.byDevice, rec.intent.DeviceID)
	}
	c.mu.Unlock()

	c.metrics.DispatchAcks.Inc()
	c.logger.Debug("delivery acked", "device_id", deviceID, "intent_id", intentID)
}

// InFlight returns the number of unacked delivery records.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Coordinator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			c.metrics.QueueDepth.Set(float64(len(c.queue)))
			c.attempt(ctx, id)
		}
	}
}

// attempt publishes the record's current payload and schedules a recheck:
// if no ack lands before the backoff expires, the delivery is retried or
// abandoned.
func (c *Coordinator) attempt(ctx context.Context, id string) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return // acked or abandoned while queued
	}
	rec.attemptCount++
	rec.lastAttempt = c.clock.Now()
	rec.published = true
	attempts := rec.attemptCount
	intent := rec.intent
	c.mu.Unlock()

	payload := domain.CommandPayload{
		IntentID:    id,
		Command:     intent.Command,
		StrikeID:    intent.StrikeID,
		DistanceKm:  intent.DistanceKm,
		GeneratedAt: intent.GeneratedAt,
	}

	c.metrics.DispatchAttempts.Inc()

	pubCtx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	err := c.pub.Publish(pubCtx, intent.DeviceID, payload)
	cancel()
	if err != nil {
		c.logger.Warn("command publish failed",
			"device_id", intent.DeviceID,
			"intent_id", id,
			"attempt", attempts,
			"error", err,
		)
	}

	c.clock.AfterFunc(c.backoffFor(attempts), func() {
		c.recheck(id)
	})
}

// recheck runs after the ack-wait backoff. A record still present was not
// acknowledged: requeue it, or abandon once the retry budget is spent.
func (c *Coordinator) recheck(id string) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return
	}

	if rec.attemptCount >= c.opts.MaxAttempts {
		delete(c.records, id)
		if c.byDevice[rec.intent.DeviceID] == id {
			delete(c.byDevice, rec.intent.DeviceID)
		}
		intent := rec.intent
		c.mu.Unlock()

		c.metrics.DispatchAbandoned.Inc()
		// Logged for operational visibility, never escalated: the device's
		// own heartbeat provides the liveness signal for unreachable units.
		c.logger.Warn("delivery abandoned",
			"device_id", intent.DeviceID,
			"intent_id", id,
			"attempts", c.opts.MaxAttempts,
		)
		return
	}
	c.mu.Unlock()

	c.metrics.DispatchRetries.Inc()
	c.enqueue(id)
}

func (c *Coordinator) enqueue(id string) {
	select {
	case c.queue <- id:
		c.metrics.QueueDepth.Set(float64(len(c.queue)))
	default:
		// Queue saturated beyond coalescing's reach; try again after one
		// backoff period rather than blocking the caller.
		c.logger.Warn("outbound queue full, deferring", "intent_id", id)
		c.clock.AfterFunc(c.opts.RetryBackoff, func() {
			c.enqueue(id)
		})
	}
}

// backoffFor doubles the delay per attempt, capped at MaxBackoff.
func (c *Coordinator) backoffFor(attempt int) time.Duration {
	d := c.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.opts.MaxBackoff {
			return c.opts.MaxBackoff
		}
	}
	if d > c.opts.MaxBackoff {
		return c.opts.MaxBackoff
	}
	return d
}
