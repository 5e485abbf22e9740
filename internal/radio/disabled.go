package radio

import (
	"context"

	"github.com/micro-ha/ble-radar/internal/model"
)

// Disabled is a radio that is switched off. Scans and connects fail with
// ErrRadioUnavailable.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Scan(context.Context, []ScanFilter, func(model.DeviceSnapshot)) error {
	return ErrRadioUnavailable
}

func (Disabled) StopScan() error { return nil }

func (Disabled) Connect(context.Context, string) (<-chan ConnectionEvent, error) {
	return nil, ErrRadioUnavailable
}

func (Disabled) DiscoverServices(Handle) error { return ErrRadioUnavailable }

func (Disabled) ReadCharacteristic(Handle, Characteristic) error { return ErrRadioUnavailable }

func (Disabled) Disconnect(Handle) error { return nil }

func (Disabled) Close(Handle) {}

func (Disabled) CloseAll() {}

func (Disabled) CloseOne(string) {}
