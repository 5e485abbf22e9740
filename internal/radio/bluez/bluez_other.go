//go:build !linux

// Package bluez adapts the BlueZ stack to the radio driver contracts. It is
// only available on Linux, elsewhere the driver reports a disabled radio.
package bluez

import (
	"log/slog"

	"github.com/micro-ha/ble-radar/internal/radio"
)

type Driver struct {
	radio.Disabled
}

func New(logger *slog.Logger) *Driver {
	if logger != nil {
		logger.Warn("bluez driver unsupported on this platform")
	}
	return &Driver{}
}
