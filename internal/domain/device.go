package domain

import "time"

// DeviceStatus is the registry-owned lifecycle state of an alert device.
type DeviceStatus string

const (
	DeviceActive    DeviceStatus = "active"
	DeviceInactive  DeviceStatus = "inactive"
	DeviceSuspended DeviceStatus = "suspended"
)

// DeviceRecord mirrors one registered alert device. The registry service
// owns the canonical record; the spatial index holds a read-mostly copy
// keyed by DeviceID.
type DeviceRecord struct {
	DeviceID      string       `json:"device_id"`
	Lat           float64      `json:"lat"`
	Lon           float64      `json:"lon"`
	AlertRadiusKm float64      `json:"alert_radius_km"`
	Status        DeviceStatus `json:"status"`
	LastSeen      time.Time    `json:"last_seen,omitempty"`
}

// Registry event operations published on the device-registry topic.
const (
	RegistryOpUpsert = "upsert"
	RegistryOpRemove = "remove"
)

// RegistryEvent is one upsert/remove notification from the device registry.
type RegistryEvent struct {
	Op     string       `json:"op"`
	Device DeviceRecord `json:"device"`
}
