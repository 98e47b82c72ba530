package device_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/device"
	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource feeds commands to the runner from a test-owned channel.
type chanSource struct {
	ch chan domain.CommandPayload
}

func (s *chanSource) Receive(ctx context.Context) (domain.CommandPayload, error) {
	select {
	case payload := <-s.ch:
		return payload, nil
	case <-ctx.Done():
		return domain.CommandPayload{}, ctx.Err()
	}
}

// recordingAcks collects published acknowledgments.
type recordingAcks struct {
	mu  sync.Mutex
	ids []string
}

func (a *recordingAcks) Ack(_ context.Context, intentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, intentID)
	return nil
}

func (a *recordingAcks) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

// memStore is an in-memory StateStore.
type memStore struct {
	mu   sync.Mutex
	snap device.Snapshot
	has  bool
}

func (m *memStore) Save(s device.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap, m.has = s, true
	return nil
}

func (m *memStore) Load() (device.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return device.NewSnapshot(), nil
	}
	return m.snap, nil
}

func (m *memStore) current() device.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

type runnerFixture struct {
	source *chanSource
	acks   *recordingAcks
	store  *memStore
	clock  *clockwork.FakeClock
	runner *device.Runner
	done   chan error
	cancel context.CancelFunc
}

func startRunner(t *testing.T, store *memStore, clock *clockwork.FakeClock) *runnerFixture {
	t.Helper()

	f := &runnerFixture{
		source: &chanSource{ch: make(chan domain.CommandPayload)},
		acks:   &recordingAcks{},
		store:  store,
		clock:  clock,
		done:   make(chan error, 1),
	}
	f.runner = device.NewRunner("dev-1", f.source, f.acks, store, clock, slog.Default(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.runner.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-f.done)
	})
	return f
}

func TestRunner_ActivateThenAck(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	f := startRunner(t, &memStore{}, clock)

	f.source.ch <- domain.CommandPayload{
		IntentID:   "dev-1/strike-1",
		Command:    domain.CommandActivate,
		StrikeID:   "strike-1",
		DistanceKm: 6.0,
	}

	require.Eventually(t, func() bool {
		return f.store.current().State == device.StateAlerting
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, t0.Add(device.AlertDuration), f.store.current().Deadline)

	require.Eventually(t, func() bool {
		return len(f.acks.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"dev-1/strike-1"}, f.acks.all())
}

func TestRunner_AutoClearOnTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	f := startRunner(t, &memStore{}, clock)

	f.source.ch <- domain.CommandPayload{
		IntentID: "dev-1/strike-1",
		Command:  domain.CommandActivate,
	}
	require.Eventually(t, func() bool {
		return f.store.current().State == device.StateAlerting
	}, time.Second, 5*time.Millisecond)

	clock.Advance(device.AlertDuration + time.Second)

	require.Eventually(t, func() bool {
		return f.store.current().State == device.StateIdle
	}, time.Second, 5*time.Millisecond)
}

// A deadline that elapsed while the device was powered off clears on
// startup, preserving the 30-minute bound across a reboot.
func TestRunner_RestoreClearsExpiredAlert(t *testing.T) {
	store := &memStore{}
	require.NoError(t, store.Save(device.Snapshot{
		State:    device.StateAlerting,
		Deadline: t0.Add(-time.Minute),
	}))

	clock := clockwork.NewFakeClockAt(t0)
	f := startRunner(t, store, clock)

	require.Eventually(t, func() bool {
		return f.store.current().State == device.StateIdle
	}, time.Second, 5*time.Millisecond)
}

// A deadline still in the future survives the reboot untouched.
func TestRunner_RestoreKeepsRunningAlert(t *testing.T) {
	store := &memStore{}
	snap := device.Snapshot{
		State:    device.StateAlerting,
		Deadline: t0.Add(10 * time.Minute),
	}
	require.NoError(t, store.Save(snap))

	clock := clockwork.NewFakeClockAt(t0)
	f := startRunner(t, store, clock)

	// Operator clear proves the loop is live without disturbing the state
	// beforehand.
	assert.Equal(t, snap, f.store.current())

	f.source.ch <- domain.CommandPayload{Command: domain.CommandClear}
	require.Eventually(t, func() bool {
		return f.store.current().State == device.StateIdle
	}, time.Second, 5*time.Millisecond)

	// Operator commands carry no intent, so nothing is acked.
	assert.Empty(t, f.acks.all())
}

// The runner tags its own log output with the device ID, so callers need
// no logger decoration of their own.
func TestRunner_LogsCarryDeviceID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	clock := clockwork.NewFakeClockAt(t0)
	source := &chanSource{ch: make(chan domain.CommandPayload)}
	acks := &recordingAcks{}
	runner := device.NewRunner("dev-7", source, acks, &memStore{}, clock, logger, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	source.ch <- domain.CommandPayload{
		IntentID: "dev-7/strike-1",
		Command:  domain.CommandActivate,
	}
	require.Eventually(t, func() bool {
		return len(acks.all()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	out := buf.String()
	assert.Contains(t, out, `"msg":"state changed"`)
	assert.Contains(t, out, `"device_id":"dev-7"`)
}

func TestRunner_TestRejectedWhileAlerting(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	f := startRunner(t, &memStore{}, clock)

	f.source.ch <- domain.CommandPayload{IntentID: "dev-1/strike-1", Command: domain.CommandActivate}
	require.Eventually(t, func() bool {
		return f.store.current().State == device.StateAlerting
	}, time.Second, 5*time.Millisecond)
	deadline := f.store.current().Deadline

	f.source.ch <- domain.CommandPayload{Command: domain.CommandTest}

	// TEST acks nothing here (no intent) and must not change state; give
	// the loop a moment, then confirm the alert is untouched.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, device.StateAlerting, f.store.current().State)
	assert.Equal(t, deadline, f.store.current().Deadline)
}
