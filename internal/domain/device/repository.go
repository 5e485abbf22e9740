package device

import (
	"context"

	"github.com/micro-ha/ble-radar/internal/model"
)

// Repository defines persistent storage operations for the device domain.
type Repository interface {
	DevicesByAddresses(ctx context.Context, addresses []string) (map[string]Device, error)
	ContactsByHashes(ctx context.Context, hashes []int) (map[int]model.AirdropContact, error)
	SaveScanBatch(ctx context.Context, devices []Device, contacts []model.AirdropContact) error

	ListDevices(ctx context.Context) ([]Device, error)
	GetDevice(ctx context.Context, address string) (Device, error)
	UpdateDeviceUserFields(ctx context.Context, address string, fields PatchInput) (Device, error)
	DeleteDevice(ctx context.Context, address string) error
}

// LocationStore links a location fix to the addresses seen with it.
type LocationStore interface {
	SaveLocation(ctx context.Context, location model.Location, addresses []string) (model.Location, error)
}

// LocationSource yields the current position, nil when unknown.
type LocationSource interface {
	FreshLocation(ctx context.Context) (*model.Location, error)
}

// Observer is notified after a batch has been written.
type Observer interface {
	DevicesChanged(all []Device, batch []Device)
}
