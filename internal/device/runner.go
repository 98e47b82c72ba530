package device

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/jonboulle/clockwork"
)

// CommandSource receives commands addressed to this device, in arrival
// order. No ordering guarantee is assumed from the transport.
type CommandSource interface {
	Receive(ctx context.Context) (domain.CommandPayload, error)
}

// AckSink publishes delivery acknowledgments back to the server. Acks are
// bookkeeping only: a failed ack never blocks or reverts a transition.
type AckSink interface {
	Ack(ctx context.Context, intentID string) error
}

// StateStore persists snapshots across restarts.
type StateStore interface {
	Save(Snapshot) error
	Load() (Snapshot, error)
}

// Runner feeds received commands and periodic clock checks into the state
// machine, persisting after every change.
type Runner struct {
	source CommandSource
	acks   AckSink
	store  StateStore
	clock  clockwork.Clock
	logger *slog.Logger
	tick   time.Duration

	snap Snapshot
}

// NewRunner creates a Runner. Every log line the runner emits carries the
// device ID. tick is the auto-clear check interval; zero defaults to one
// second.
func NewRunner(deviceID string, source CommandSource, acks AckSink, store StateStore, clock clockwork.Clock, logger *slog.Logger, tick time.Duration) *Runner {
	if tick <= 0 {
		tick = time.Second
	}
	return &Runner{
		source: source,
		acks:   acks,
		store:  store,
		clock:  clock,
		logger: logger.With("device_id", deviceID),
		tick:   tick,
	}
}

// Run restores persisted state, then processes commands and ticks until
// the context is cancelled. The restored snapshot is re-evaluated against
// the current clock immediately, so an alert whose deadline passed during
// a reboot clears on startup.
func (r *Runner) Run(ctx context.Context) error {
	snap, err := r.store.Load()
	if err != nil {
		return err
	}
	r.apply(Tick(snap, r.clock.Now()), "restore")

	ticker := r.clock.NewTicker(r.tick)
	defer ticker.Stop()

	cmds := make(chan domain.CommandPayload)
	recvErr := make(chan error, 1)
	go func() {
		for {
			payload, err := r.source.Receive(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case cmds <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("device agent stopping", "reason", ctx.Err())
			return nil

		case err := <-recvErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err

		case payload := <-cmds:
			r.handleCommand(ctx, payload)

		case <-ticker.Chan():
			r.apply(Tick(r.snap, r.clock.Now()), "tick")
		}
	}
}

// Snapshot returns the current state. Not safe for concurrent use with
// Run; intended for inspection after Run returns and for tests.
func (r *Runner) Snapshot() Snapshot {
	return r.snap
}

func (r *Runner) handleCommand(ctx context.Context, payload domain.CommandPayload) {
	r.logger.Info("command received",
		"command", payload.Command,
		"intent_id", payload.IntentID,
		"strike_id", payload.StrikeID,
		"distance_km", payload.DistanceKm,
	)

	r.apply(Next(r.snap, payload.Command, r.clock.Now()), string(payload.Command))

	if payload.IntentID == "" {
		return // operator commands carry no delivery record
	}
	if err := r.acks.Ack(ctx, payload.IntentID); err != nil {
		r.logger.Warn("ack publish failed", "intent_id", payload.IntentID, "error", err)
	}
}

// apply persists and logs a snapshot change. Unchanged snapshots (an
// idempotent re-ACTIVATE lands on the same second, a tick before the
// deadline) skip the write.
func (r *Runner) apply(next Snapshot, cause string) {
	if next == r.snap {
		return
	}
	prev := r.snap
	r.snap = next
	if err := r.store.Save(next); err != nil {
		// The in-memory machine stays correct; only restart recovery is
		// degraded until the next successful write.
		r.logger.Error("state persist failed", "error", err)
	}
	r.logger.Info("state changed",
		"from", prev.State,
		"to", next.State,
		"deadline", next.Deadline,
		"cause", cause,
	)
}
