package device

import "errors"

var (
	// ErrDeviceNotFound indicates a missing device by address.
	ErrDeviceNotFound = errors.New("device not found")
)
