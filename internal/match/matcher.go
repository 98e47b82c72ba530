// Package match fans each new strike event out into per-device alert intents.
package match

import (
	"log/slog"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/couchcryptid/lightning-dispatch/internal/spatial"
	"github.com/jonboulle/clockwork"
)

// Matcher builds ACTIVATE intents for every device whose alert radius
// covers a strike. Two strikes matching the same device both generate an
// intent; collapsing overlapping activations is the device's job via timer
// reset, not the server's.
type Matcher struct {
	index  *spatial.Index
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a Matcher reading from the given index.
func New(index *spatial.Index, clock clockwork.Clock, logger *slog.Logger) *Matcher {
	return &Matcher{index: index, clock: clock, logger: logger}
}

// Match returns one AlertIntent per covered active device.
func (m *Matcher) Match(event domain.StrikeEvent) []domain.AlertIntent {
	hits := m.index.Query(event.Lat, event.Lon)
	if len(hits) == 0 {
		return nil
	}

	now := m.clock.Now().UTC()
	intents := make([]domain.AlertIntent, 0, len(hits))
	for _, hit := range hits {
		intents = append(intents, domain.AlertIntent{
			DeviceID:    hit.DeviceID,
			StrikeID:    event.ID,
			DistanceKm:  hit.DistanceKm,
			Command:     domain.CommandActivate,
			GeneratedAt: now,
		})
	}

	m.logger.Debug("strike matched",
		"strike_id", event.ID,
		"devices", len(intents),
	)
	return intents
}
