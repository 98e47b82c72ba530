package domain

import "time"

// Command is an instruction delivered to a device over its command channel.
type Command string

const (
	CommandActivate Command = "ACTIVATE"
	CommandTest     Command = "TEST"
	CommandClear    Command = "CLEAR"
)

// AlertIntent is a server-generated instruction to activate alerting on one
// device for one strike. Ephemeral: produced by the matcher, consumed by
// the dispatch coordinator, never persisted beyond delivery tracking.
//
// Invariant: DistanceKm <= the device's alert radius at generation time.
type AlertIntent struct {
	DeviceID    string    `json:"device_id"`
	StrikeID    string    `json:"strike_id"`
	DistanceKm  float64   `json:"distance_km"`
	Command     Command   `json:"command"`
	GeneratedAt time.Time `json:"generated_at"`
}

// IntentID derives the delivery-tracking key. It is deterministic so a
// re-submitted intent for the same (device, strike) pair collapses into
// one delivery record.
func (i AlertIntent) IntentID() string {
	return i.DeviceID + "/" + i.StrikeID
}

// CommandPayload is the wire format published on the device-commands topic,
// message key = device_id.
type CommandPayload struct {
	IntentID    string    `json:"intent_id"`
	Command     Command   `json:"command"`
	StrikeID    string    `json:"strike_id,omitempty"`
	DistanceKm  float64   `json:"distance_km,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// AckPayload is the wire format devices publish on the device-acks topic
// after applying a command. Acks are delivery bookkeeping only; they never
// gate the device's own state transitions.
type AckPayload struct {
	DeviceID   string    `json:"device_id"`
	IntentID   string    `json:"intent_id"`
	ReceivedAt time.Time `json:"received_at"`
}
