package device

import "github.com/micro-ha/ble-radar/internal/model"

// Device is the persisted identity of an address.
type Device = model.DeviceRecord

// Snapshot is one radio observation.
type Snapshot = model.DeviceSnapshot

// Handle is a merged device with its pre-merge timestamps.
type Handle = model.SavedDeviceHandle

// PatchInput is the API payload for user owned fields.
type PatchInput = model.DeviceUserFields

// ListFilter applies device list query constraints.
type ListFilter struct {
	Query    string
	Favorite *bool
}

// MergeResult summarizes one merged scan batch.
type MergeResult struct {
	KnownDeviceCount int
	Handles          []Handle
}
