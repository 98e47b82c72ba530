// Package device implements the on-device alert state machine and the
// agent that wires it to the command channel.
//
// The machine is a pure function of the commands received and elapsed
// time: (snapshot, event, now) -> snapshot. It never depends on further
// server contact; the server only ever influences it through delivered
// commands.
package device

import (
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
)

// State is the device's visible alert mode.
type State string

const (
	StateIdle     State = "IDLE"
	StateAlerting State = "ALERTING"
	StateTesting  State = "TESTING"
)

// Pattern durations. Wall-clock absolute deadlines, persisted across
// restart, so the "alert cleared after at most 30 minutes" bound holds
// even through a reboot.
const (
	AlertDuration = 30 * time.Minute
	TestDuration  = 10 * time.Second
)

// Snapshot is the device-local alert truth: current state plus the
// wall-clock deadline of the running pattern. Zero Deadline means none.
type Snapshot struct {
	State    State     `json:"state"`
	Deadline time.Time `json:"deadline,omitzero"`
}

// NewSnapshot returns the initial idle state.
func NewSnapshot() Snapshot {
	return Snapshot{State: StateIdle}
}

// Next applies one received command. Pure; no timers, no I/O.
//
// ACTIVATE is idempotent: while ALERTING it only resets the deadline to
// now+30m, regardless of the command's distance. The pattern is binary,
// not distance-scaled, so a closer or later strike extends duration and
// nothing else. Commands may arrive reordered; reordering can only extend
// a deadline, never shorten one.
func Next(s Snapshot, cmd domain.Command, now time.Time) Snapshot {
	switch cmd {
	case domain.CommandActivate:
		return Snapshot{State: StateAlerting, Deadline: now.Add(AlertDuration)}

	case domain.CommandTest:
		// A real alert is never interrupted or shortened by a test.
		if s.State == StateAlerting {
			return s
		}
		return Snapshot{State: StateTesting, Deadline: now.Add(TestDuration)}

	case domain.CommandClear:
		return Snapshot{State: StateIdle}

	default:
		return s
	}
}

// Tick advances the machine on a clock check, auto-clearing an elapsed
// pattern. Idle snapshots pass through unchanged.
func Tick(s Snapshot, now time.Time) Snapshot {
	if s.State == StateIdle {
		return s
	}
	if s.Deadline.IsZero() || now.Before(s.Deadline) {
		return s
	}
	return Snapshot{State: StateIdle}
}
