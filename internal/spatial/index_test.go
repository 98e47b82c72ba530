package spatial_test

import (
	"fmt"
	"testing"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
	"github.com/couchcryptid/lightning-dispatch/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeDevice(id string, lat, lon, radiusKm float64) domain.DeviceRecord {
	return domain.DeviceRecord{
		DeviceID:      id,
		Lat:           lat,
		Lon:           lon,
		AlertRadiusKm: radiusKm,
		Status:        domain.DeviceActive,
	}
}

func TestQuery_DeviceWithinRadius(t *testing.T) {
	ix := spatial.New(0.1, 12)
	ix.Upsert(activeDevice("dev-1", 1.30, 103.85, 8))

	// Strike in central Singapore, ~6-7 km from the device.
	matches := ix.Query(1.3521, 103.8198)

	require.Len(t, matches, 1)
	assert.Equal(t, "dev-1", matches[0].DeviceID)
	assert.InDelta(t, 6.7, matches[0].DistanceKm, 0.5)
	assert.LessOrEqual(t, matches[0].DistanceKm, 8.0)
}

func TestQuery_DeviceBeyondRadius(t *testing.T) {
	ix := spatial.New(0.1, 12)
	ix.Upsert(activeDevice("dev-far", 1.45, 103.70, 8))

	// Same strike, device ~17-18 km away with an 8 km radius.
	matches := ix.Query(1.3521, 103.8198)
	assert.Empty(t, matches)
}

func TestQuery_PerDeviceRadius(t *testing.T) {
	ix := spatial.New(0.1, 12)
	// Two devices at the same spot, ~6-7 km from the strike, with radii
	// straddling the distance.
	ix.Upsert(activeDevice("dev-small", 1.30, 103.85, 5))
	ix.Upsert(activeDevice("dev-large", 1.30, 103.85, 12))

	matches := ix.Query(1.3521, 103.8198)

	require.Len(t, matches, 1)
	assert.Equal(t, "dev-large", matches[0].DeviceID)
}

func TestQuery_FiltersInactiveDevices(t *testing.T) {
	ix := spatial.New(0.1, 12)
	for i, status := range []domain.DeviceStatus{domain.DeviceInactive, domain.DeviceSuspended} {
		dev := activeDevice(fmt.Sprintf("dev-%d", i), 1.30, 103.85, 8)
		dev.Status = status
		ix.Upsert(dev)
	}

	assert.Empty(t, ix.Query(1.3521, 103.8198))
	assert.Equal(t, 2, ix.Len(), "inactive devices stay mirrored")
}

func TestUpsert_MovesDeviceBetweenCells(t *testing.T) {
	ix := spatial.New(0.1, 12)
	ix.Upsert(activeDevice("dev-1", 1.30, 103.85, 8))

	// Relocate far outside the original neighborhood.
	ix.Upsert(activeDevice("dev-1", 1.70, 104.40, 8))

	assert.Empty(t, ix.Query(1.3521, 103.8198))

	matches := ix.Query(1.70, 104.40)
	require.Len(t, matches, 1)
	assert.Equal(t, "dev-1", matches[0].DeviceID)
	assert.Equal(t, 1, ix.Len())
}

func TestUpsert_RadiusChangeTakesEffect(t *testing.T) {
	ix := spatial.New(0.1, 12)
	ix.Upsert(activeDevice("dev-1", 1.30, 103.85, 8))
	require.Len(t, ix.Query(1.3521, 103.8198), 1)

	ix.Upsert(activeDevice("dev-1", 1.30, 103.85, 5))
	assert.Empty(t, ix.Query(1.3521, 103.8198))
}

func TestRemove(t *testing.T) {
	ix := spatial.New(0.1, 12)
	ix.Upsert(activeDevice("dev-1", 1.30, 103.85, 8))

	ix.Remove("dev-1")
	ix.Remove("dev-unknown") // no-op

	assert.Empty(t, ix.Query(1.3521, 103.8198))
	assert.Equal(t, 0, ix.Len())
}

func TestQuery_DeviceOnCellBoundary(t *testing.T) {
	ix := spatial.New(0.1, 12)
	// Device sits in a neighboring cell; the neighborhood scan must still
	// reach it because it is within the maximum radius.
	ix.Upsert(activeDevice("dev-1", 1.41, 103.82, 10))

	matches := ix.Query(1.3521, 103.8198)
	require.Len(t, matches, 1)
	assert.Equal(t, "dev-1", matches[0].DeviceID)
}

func TestQuery_ManyDevices(t *testing.T) {
	ix := spatial.New(0.1, 12)
	// A grid of devices across the island; only those near the strike match.
	for i := 0; i < 20; i++ {
		for j := 0; j < 20; j++ {
			lat := 1.0 + float64(i)*0.035
			lon := 103.3 + float64(j)*0.055
			ix.Upsert(activeDevice(fmt.Sprintf("dev-%d-%d", i, j), lat, lon, 6))
		}
	}

	for _, m := range ix.Query(1.3521, 103.8198) {
		assert.LessOrEqual(t, m.DistanceKm, 6.0)
	}
}
