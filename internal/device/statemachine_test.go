package device_test

import (
	"testing"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/device"
	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC)

func TestNext_Transitions(t *testing.T) {
	alerting := device.Snapshot{State: device.StateAlerting, Deadline: t0.Add(20 * time.Minute)}
	testing_ := device.Snapshot{State: device.StateTesting, Deadline: t0.Add(5 * time.Second)}

	cases := []struct {
		name string
		from device.Snapshot
		cmd  domain.Command
		want device.Snapshot
	}{
		{
			name: "idle activate starts alert",
			from: device.NewSnapshot(),
			cmd:  domain.CommandActivate,
			want: device.Snapshot{State: device.StateAlerting, Deadline: t0.Add(device.AlertDuration)},
		},
		{
			name: "alerting activate resets deadline",
			from: alerting,
			cmd:  domain.CommandActivate,
			want: device.Snapshot{State: device.StateAlerting, Deadline: t0.Add(device.AlertDuration)},
		},
		{
			name: "idle test starts test pattern",
			from: device.NewSnapshot(),
			cmd:  domain.CommandTest,
			want: device.Snapshot{State: device.StateTesting, Deadline: t0.Add(device.TestDuration)},
		},
		{
			name: "test rejected while alerting",
			from: alerting,
			cmd:  domain.CommandTest,
			want: alerting,
		},
		{
			name: "testing activate upgrades to alert",
			from: testing_,
			cmd:  domain.CommandActivate,
			want: device.Snapshot{State: device.StateAlerting, Deadline: t0.Add(device.AlertDuration)},
		},
		{
			name: "clear from alerting",
			from: alerting,
			cmd:  domain.CommandClear,
			want: device.NewSnapshot(),
		},
		{
			name: "clear from testing",
			from: testing_,
			cmd:  domain.CommandClear,
			want: device.NewSnapshot(),
		},
		{
			name: "clear from idle",
			from: device.NewSnapshot(),
			cmd:  domain.CommandClear,
			want: device.NewSnapshot(),
		},
		{
			name: "unknown command ignored",
			from: alerting,
			cmd:  domain.Command("REBOOT"),
			want: alerting,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := device.Next(tc.from, tc.cmd, t0)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Any sequence of ACTIVATEs, in any order or timing, leaves the device
// alerting with deadline = last command time + 30 minutes.
func TestNext_IdempotentActivation(t *testing.T) {
	times := []time.Duration{0, 3 * time.Minute, time.Minute, 25 * time.Minute, 24 * time.Minute}

	s := device.NewSnapshot()
	var last time.Time
	for _, offset := range times {
		at := t0.Add(offset)
		s = device.Next(s, domain.CommandActivate, at)
		if at.After(last) {
			last = at
		}
	}

	assert.Equal(t, device.StateAlerting, s.State)
	// Reordered duplicates may only extend the deadline, never shorten it;
	// here the last-received command is also the latest.
	assert.Equal(t, t0.Add(25*time.Minute).Add(device.AlertDuration), s.Deadline)
}

func TestTick_AutoClearAfterDeadline(t *testing.T) {
	s := device.Next(device.NewSnapshot(), domain.CommandActivate, t0)

	// Never clears before the deadline.
	for _, offset := range []time.Duration{0, time.Minute, 29 * time.Minute, device.AlertDuration - time.Second} {
		assert.Equal(t, device.StateAlerting, device.Tick(s, t0.Add(offset)).State, "at +%s", offset)
	}

	// Clears at and after the deadline.
	assert.Equal(t, device.StateIdle, device.Tick(s, t0.Add(device.AlertDuration)).State)
	assert.Equal(t, device.StateIdle, device.Tick(s, t0.Add(device.AlertDuration+time.Hour)).State)
}

func TestTick_TestPatternTimesOut(t *testing.T) {
	s := device.Next(device.NewSnapshot(), domain.CommandTest, t0)

	assert.Equal(t, device.StateTesting, device.Tick(s, t0.Add(9*time.Second)).State)
	assert.Equal(t, device.StateIdle, device.Tick(s, t0.Add(device.TestDuration)).State)
}

func TestTick_IdleIsStable(t *testing.T) {
	s := device.NewSnapshot()
	assert.Equal(t, s, device.Tick(s, t0.Add(time.Hour)))
}

// A re-ACTIVATE just before an earlier deadline extends the alert; the
// earlier deadline no longer clears it.
func TestActivate_ExtensionSurvivesOldDeadline(t *testing.T) {
	s := device.Next(device.NewSnapshot(), domain.CommandActivate, t0)
	s = device.Next(s, domain.CommandActivate, t0.Add(29*time.Minute))

	at := t0.Add(31 * time.Minute) // past the first deadline, inside the second
	assert.Equal(t, device.StateAlerting, device.Tick(s, at).State)

	at = t0.Add(29*time.Minute + device.AlertDuration)
	assert.Equal(t, device.StateIdle, device.Tick(s, at).State)
}
