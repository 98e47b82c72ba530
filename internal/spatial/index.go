// Package spatial maintains a read-mostly mirror of device locations and
// answers radius queries for the alert matcher.
package spatial

import (
	"math"
	"sync"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
)

// DefaultCellSizeDeg is ~11 km of latitude per cell, sized so city-scale
// deployments keep expected devices-per-cell small.
const DefaultCellSizeDeg = 0.1

// DefaultMaxRadiusKm bounds the neighborhood scan. Device radii are
// heterogeneous (5–12 km), so queries over-fetch by the maximum configured
// radius and filter exactly per device.
const DefaultMaxRadiusKm = 12.0

// kmPerDegreeLat is the approximate north-south span of one degree.
const kmPerDegreeLat = 110.574

// Match is one device whose alert radius covers the queried point.
type Match struct {
	DeviceID   string
	DistanceKm float64
}

type cellKey struct {
	x, y int
}

// Index is a uniform spatial grid over device records. Reads far outnumber
// writes (registry changes are rare relative to strike frequency), so a
// reader-writer lock keeps matching throughput during a storm from being
// serialized behind registry updates.
type Index struct {
	cellSizeDeg float64
	maxRadiusKm float64

	mu      sync.RWMutex
	devices map[string]domain.DeviceRecord
	cells   map[cellKey]map[string]struct{}
}

// New creates an empty Index. Zero or negative parameters fall back to the
// package defaults.
func New(cellSizeDeg, maxRadiusKm float64) *Index {
	if cellSizeDeg <= 0 {
		cellSizeDeg = DefaultCellSizeDeg
	}
	if maxRadiusKm <= 0 {
		maxRadiusKm = DefaultMaxRadiusKm
	}
	return &Index{
		cellSizeDeg: cellSizeDeg,
		maxRadiusKm: maxRadiusKm,
		devices:     make(map[string]domain.DeviceRecord),
		cells:       make(map[cellKey]map[string]struct{}),
	}
}

// Upsert inserts or replaces a device record, moving it between grid cells
// if its location changed.
func (ix *Index) Upsert(dev domain.DeviceRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.devices[dev.DeviceID]; ok {
		ix.removeFromCell(ix.keyFor(old.Lat, old.Lon), dev.DeviceID)
	}

	ix.devices[dev.DeviceID] = dev
	key := ix.keyFor(dev.Lat, dev.Lon)
	bucket, ok := ix.cells[key]
	if !ok {
		bucket = make(map[string]struct{})
		ix.cells[key] = bucket
	}
	bucket[dev.DeviceID] = struct{}{}
}

// Remove deletes a device from the index. Unknown IDs are a no-op.
func (ix *Index) Remove(deviceID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	dev, ok := ix.devices[deviceID]
	if !ok {
		return
	}
	delete(ix.devices, deviceID)
	ix.removeFromCell(ix.keyFor(dev.Lat, dev.Lon), deviceID)
}

// Query returns every active device whose own alert radius covers the
// point. It visits the N×N cell neighborhood spanning the maximum
// configured radius, then applies exact haversine filtering per device.
func (ix *Index) Query(lat, lon float64) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	center := ix.keyFor(lat, lon)
	spanX := ix.cellSpanLon(lat)
	spanY := ix.cellSpanLat()

	var matches []Match
	for dx := -spanX; dx <= spanX; dx++ {
		for dy := -spanY; dy <= spanY; dy++ {
			bucket := ix.cells[cellKey{x: center.x + dx, y: center.y + dy}]
			for id := range bucket {
				dev := ix.devices[id]
				if dev.Status != domain.DeviceActive {
					continue
				}
				dist := domain.HaversineKm(lat, lon, dev.Lat, dev.Lon)
				if dist <= dev.AlertRadiusKm {
					matches = append(matches, Match{DeviceID: id, DistanceKm: dist})
				}
			}
		}
	}
	return matches
}

// Len returns the number of devices currently mirrored, in any status.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.devices)
}

func (ix *Index) keyFor(lat, lon float64) cellKey {
	return cellKey{
		x: int(math.Floor(lon / ix.cellSizeDeg)),
		y: int(math.Floor(lat / ix.cellSizeDeg)),
	}
}

// cellSpanLat converts the maximum radius to a whole number of cells along
// the latitude axis.
func (ix *Index) cellSpanLat() int {
	deg := ix.maxRadiusKm / kmPerDegreeLat
	return int(math.Ceil(deg/ix.cellSizeDeg))
}

// cellSpanLon converts the maximum radius to cells along the longitude
// axis, which shrink with latitude.
func (ix *Index) cellSpanLon(lat float64) int {
	kmPerDegreeLon := kmPerDegreeLat * math.Cos(radians(lat))
	if kmPerDegreeLon < 1 {
		kmPerDegreeLon = 1
	}
	deg := ix.maxRadiusKm / kmPerDegreeLon
	return int(math.Ceil(deg/ix.cellSizeDeg))
}

func (ix *Index) removeFromCell(key cellKey, deviceID string) {
	bucket, ok := ix.cells[key]
	if !ok {
		return
	}
	delete(bucket, deviceID)
	if len(bucket) == 0 {
		delete(ix.cells, key)
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
