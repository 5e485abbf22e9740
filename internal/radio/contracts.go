package radio

import (
	"context"

	"github.com/micro-ha/ble-radar/internal/model"
)

// PowerMode selects how aggressively the radio scans.
type PowerMode string

const (
	PowerModeUnrestricted PowerMode = "unrestricted"
	PowerModeBackground   PowerMode = "background"
)

// ScanFilter restricts a scan to advertisements carrying a service UUID.
type ScanFilter struct {
	ServiceUUID string
}

// backgroundServices are the 16-bit services of interest when scanning in
// the reduced power mode.
var backgroundServices = []string{"fd6f", "fe9f", "fe2c", "feaa", "180f", "180a"}

// FiltersFor returns the scan filters of a power mode. Unrestricted scans
// use no filters.
func FiltersFor(mode PowerMode) []ScanFilter {
	if mode != PowerModeBackground {
		return nil
	}
	out := make([]ScanFilter, len(backgroundServices))
	for i, id := range backgroundServices {
		out[i] = ScanFilter{ServiceUUID: id}
	}
	return out
}

// ParsePowerMode validates a configured power mode.
func ParsePowerMode(v string) (PowerMode, bool) {
	switch PowerMode(v) {
	case PowerModeUnrestricted, PowerModeBackground:
		return PowerMode(v), true
	default:
		return "", false
	}
}

// ScanDriver is the platform scan source.
type ScanDriver interface {
	Enabled() bool
	// Scan blocks until ctx is done or the driver fails, calling emit for
	// every advertisement.
	Scan(ctx context.Context, filters []ScanFilter, emit func(model.DeviceSnapshot)) error
	StopScan() error
}

// Handle identifies an open connection.
type Handle string

// Characteristic is a readable GATT characteristic.
type Characteristic struct {
	ServiceUUID string
	UUID        string
}

// Service is a discovered GATT service with its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// ConnectionDriver is the platform connection source. Requests are
// asynchronous, their outcomes arrive on the channel returned by Connect.
type ConnectionDriver interface {
	Connect(ctx context.Context, address string) (<-chan ConnectionEvent, error)
	DiscoverServices(handle Handle) error
	ReadCharacteristic(handle Handle, characteristic Characteristic) error
	Disconnect(handle Handle) error
	Close(handle Handle)
	CloseAll()
	CloseOne(address string)
}
