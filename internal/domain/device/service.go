package device

import "context"

// Service exposes device use-cases used by the scan pipeline and HTTP layer.
type Service interface {
	MergeAndPersist(ctx context.Context, snapshots []Snapshot) (MergeResult, error)
	ListDevices(ctx context.Context, filter ListFilter) ([]Device, error)
	GetDevice(ctx context.Context, address string) (Device, error)
	PatchDevice(ctx context.Context, address string, in PatchInput) (Device, error)
	DeleteDevice(ctx context.Context, address string) error
}
