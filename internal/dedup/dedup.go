// Package dedup collapses repeated strike reports from the upstream feed
// into a canonical set of new strike events.
package dedup

import (
	"errors"
	"sync"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultRetention bounds the replay-detection window. Upstream polls
// overlap by at most a few cycles, so 15 minutes comfortably covers any
// re-delivered reading.
const DefaultRetention = 15 * time.Minute

// Deduplicator tracks recently seen strike IDs inside a bounded retention
// window. Safe for use from a single ingestion goroutine; the seen-set is
// still mutex-guarded so tests and future callers cannot race it.
type Deduplicator struct {
	retention time.Duration
	clock     clockwork.Clock

	mu   sync.Mutex
	seen map[string]time.Time
	fifo []seenEntry // ingestion order, oldest first
}

type seenEntry struct {
	id string
	at time.Time
}

// New creates a Deduplicator with the given retention window. A zero or
// negative retention falls back to DefaultRetention.
func New(retention time.Duration, clock clockwork.Clock) *Deduplicator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Deduplicator{
		retention: retention,
		clock:     clock,
		seen:      make(map[string]time.Time),
	}
}

// Ingest parses a raw feed record and registers its strike ID.
//
// Returns (nil, nil) for a duplicate seen within the retention window;
// duplicates are expected under upstream polling overlap, not an error. Returns a
// *domain.MalformedStrikeError for records that cannot be parsed; callers
// skip these, they are never fatal.
func (d *Deduplicator) Ingest(raw domain.RawEvent) (*domain.StrikeEvent, error) {
	event, err := domain.ParseRawStrike(raw)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.evictOlderThan(now.Add(-d.retention))

	if _, dup := d.seen[event.ID]; dup {
		return nil, nil
	}

	d.seen[event.ID] = now
	d.fifo = append(d.fifo, seenEntry{id: event.ID, at: now})
	return &event, nil
}

// Size returns the number of IDs currently retained.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduplicator) evictOlderThan(cutoff time.Time) {
	i := 0
	for ; i < len(d.fifo); i++ {
		if d.fifo[i].at.After(cutoff) {
			break
		}
		delete(d.seen, d.fifo[i].id)
	}
	d.fifo = d.fifo[i:]
}

// IsMalformed reports whether err is a malformed-record error that should
// be dropped locally rather than propagated.
func IsMalformed(err error) bool {
	var malformed *domain.MalformedStrikeError
	return errors.As(err, &malformed)
}
