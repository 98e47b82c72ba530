package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Strike type codes as reported by the NEA feed.
const (
	StrikeTypeGround = "G"
	StrikeTypeCloud  = "C"
)

// Singapore bounding box used for service-area checks.
const (
	boundsLatMin = 0.95
	boundsLatMax = 1.75
	boundsLonMin = 103.27
	boundsLonMax = 104.52
)

// RawStrikeRecord is the flat JSON structure produced by the feed collector.
// Coordinates come as strings from the upstream API.
type RawStrikeRecord struct {
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	Type        string `json:"type"`
	Description string `json:"text,omitempty"`
	Datetime    string `json:"datetime"`
}

// StrikeEvent is the canonical, deduplicated representation of one strike.
// Immutable after creation.
type StrikeEvent struct {
	ID         string    `json:"id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	StrikeType string    `json:"strike_type"`
	OccurredAt time.Time `json:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

// MalformedStrikeError reports a raw reading that cannot become a strike
// event. These are dropped by the deduplicator, never propagated as fatal.
type MalformedStrikeError struct {
	Field  string
	Reason string
}

func (e *MalformedStrikeError) Error() string {
	return fmt.Sprintf("malformed strike record: %s: %s", e.Field, e.Reason)
}

// ParseRawStrike deserializes a RawEvent's value into a StrikeEvent.
// IngestedAt is taken from the injected clock so tests can freeze it.
func ParseRawStrike(raw RawEvent) (StrikeEvent, error) {
	var rec RawStrikeRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return StrikeEvent{}, &MalformedStrikeError{Field: "payload", Reason: err.Error()}
	}

	lat, err := parseCoordinate(rec.Latitude)
	if err != nil {
		return StrikeEvent{}, &MalformedStrikeError{Field: "latitude", Reason: err.Error()}
	}
	lon, err := parseCoordinate(rec.Longitude)
	if err != nil {
		return StrikeEvent{}, &MalformedStrikeError{Field: "longitude", Reason: err.Error()}
	}

	occurredAt, err := parseStrikeTime(rec.Datetime, raw.Timestamp)
	if err != nil {
		return StrikeEvent{}, &MalformedStrikeError{Field: "datetime", Reason: err.Error()}
	}

	strikeType := strings.TrimSpace(rec.Type)
	if strikeType == "" {
		strikeType = StrikeTypeGround
	}

	return StrikeEvent{
		ID:         StrikeID(lat, lon, occurredAt, strikeType),
		Lat:        lat,
		Lon:        lon,
		StrikeType: strikeType,
		OccurredAt: occurredAt,
		IngestedAt: clock.Now().UTC(),
	}, nil
}

// InServiceArea reports whether the strike lies inside the Singapore
// bounding box.
func (s StrikeEvent) InServiceArea() bool {
	return s.Lat >= boundsLatMin && s.Lat <= boundsLatMax &&
		s.Lon >= boundsLonMin && s.Lon <= boundsLonMax
}

// StrikeID produces a deterministic ID from the strike's key fields.
// Coordinates are rounded to 4 decimal places (~11m) so float formatting
// noise from the upstream feed cannot split one strike into two IDs.
// Re-polling the same reading yields the same ID; this is the sole
// deduplication key.
func StrikeID(lat, lon float64, occurredAt time.Time, strikeType string) string {
	input := fmt.Sprintf("%.4f|%.4f|%d|%s", lat, lon, occurredAt.Unix(), strikeType)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	return "strike-" + short
}

func parseCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing coordinate")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", s, err)
	}
	return v, nil
}

// parseStrikeTime parses the reading's ISO-8601 timestamp, falling back to
// the message timestamp when the feed omits it.
func parseStrikeTime(s string, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if fallback.IsZero() {
			return time.Time{}, fmt.Errorf("missing datetime")
		}
		return fallback.UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}
