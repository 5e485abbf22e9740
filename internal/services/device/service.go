package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	devicedomain "github.com/micro-ha/ble-radar/internal/domain/device"
	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/storage"
)

// DefaultKnownDevicePeriod is the lifetime after which a re-observed device
// counts as known.
const DefaultKnownDevicePeriod = time.Hour

// RecordBuilder turns a snapshot into a first-sighting record.
type RecordBuilder interface {
	Build(snapshot model.DeviceSnapshot) model.DeviceRecord
}

// Options tunes merge behavior and optional collaborators.
type Options struct {
	KnownDevicePeriod time.Duration
	Locations         devicedomain.LocationSource
	LocationStore     devicedomain.LocationStore
	Observers         []devicedomain.Observer
}

// Service implements device.Service use-cases.
type Service struct {
	repo    devicedomain.Repository
	builder RecordBuilder
	opts    Options
	logger  *slog.Logger

	// writeMu serializes read-merge-write cycles so batches never interleave.
	writeMu sync.Mutex
}

// New creates device service with default options.
func New(repo devicedomain.Repository, builder RecordBuilder, logger *slog.Logger) *Service {
	return NewWithOptions(repo, builder, logger, Options{})
}

// NewWithOptions creates device service with explicit options.
func NewWithOptions(repo devicedomain.Repository, builder RecordBuilder, logger *slog.Logger, opts Options) *Service {
	if opts.KnownDevicePeriod <= 0 {
		opts.KnownDevicePeriod = DefaultKnownDevicePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, builder: builder, opts: opts, logger: logger}
}

// MergeAndPersist folds a scan batch into stored records, writes devices and
// AirDrop contacts in one transaction and returns handles carrying the
// timestamps from before this write.
func (s *Service) MergeAndPersist(ctx context.Context, snapshots []devicedomain.Snapshot) (devicedomain.MergeResult, error) {
	built := s.buildLatest(snapshots)
	if len(built) == 0 {
		return devicedomain.MergeResult{}, nil
	}

	s.writeMu.Lock()
	result, merged, err := s.mergeAndSave(ctx, built)
	s.writeMu.Unlock()
	if err != nil {
		return devicedomain.MergeResult{}, err
	}

	s.notify(ctx, merged)
	s.recordLocation(ctx, merged)
	return result, nil
}

func (s *Service) mergeAndSave(ctx context.Context, built []model.DeviceRecord) (devicedomain.MergeResult, []model.DeviceRecord, error) {
	addresses := make([]string, len(built))
	var hashes []int
	for i, record := range built {
		addresses[i] = record.Address
		if record.Manufacturer != nil {
			for _, contact := range record.Manufacturer.AirdropContacts {
				hashes = append(hashes, contact.SHA256)
			}
		}
	}

	existing, err := s.repo.DevicesByAddresses(ctx, addresses)
	if err != nil {
		return devicedomain.MergeResult{}, nil, fmt.Errorf("load devices: %w", err)
	}
	existingContacts := map[int]model.AirdropContact{}
	if len(hashes) > 0 {
		existingContacts, err = s.repo.ContactsByHashes(ctx, hashes)
		if err != nil {
			return devicedomain.MergeResult{}, nil, fmt.Errorf("load airdrop contacts: %w", err)
		}
	}

	result := devicedomain.MergeResult{Handles: make([]devicedomain.Handle, 0, len(built))}
	merged := make([]model.DeviceRecord, 0, len(built))
	contacts := map[int]model.AirdropContact{}
	for _, record := range built {
		handle := devicedomain.Handle{Device: record, PreviouslySeenAt: record.LastDetectAt}
		if prev, ok := existing[record.Address]; ok {
			handle.Device = prev.MergeWithNewDetected(record)
			handle.PreviouslySeenAt = prev.LastDetectAt
			if prev.KnownLifetime() >= s.opts.KnownDevicePeriod {
				result.KnownDeviceCount++
			}
		}

		if handle.Device.Manufacturer != nil {
			for _, contact := range handle.Device.Manufacturer.AirdropContacts {
				if prev, ok := existingContacts[contact.SHA256]; ok {
					if handle.AirdropPreviouslySeenAt == nil {
						handle.AirdropPreviouslySeenAt = map[int]time.Time{}
					}
					handle.AirdropPreviouslySeenAt[contact.SHA256] = prev.LastDetectionAt
				}
				contacts[contact.SHA256] = model.AirdropContact{
					SHA256:            contact.SHA256,
					AssociatedAddress: handle.Device.Address,
					LastDetectionAt:   handle.Device.LastDetectAt,
				}
			}
		}

		merged = append(merged, handle.Device)
		result.Handles = append(result.Handles, handle)
	}

	contactRows := make([]model.AirdropContact, 0, len(contacts))
	for _, contact := range contacts {
		contactRows = append(contactRows, contact)
	}
	if err := s.repo.SaveScanBatch(ctx, merged, contactRows); err != nil {
		return devicedomain.MergeResult{}, nil, fmt.Errorf("save scan batch: %w", err)
	}

	s.logger.Debug("scan batch merged",
		"devices", len(merged),
		"new", len(merged)-len(existing),
		"known", result.KnownDeviceCount,
		"airdrop_contacts", len(contactRows),
	)
	return result, merged, nil
}

// buildLatest converts snapshots to records keeping the newest observation
// per address in first-seen order.
func (s *Service) buildLatest(snapshots []devicedomain.Snapshot) []model.DeviceRecord {
	index := make(map[string]int, len(snapshots))
	out := make([]model.DeviceRecord, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if strings.TrimSpace(snapshot.Address) == "" {
			continue
		}
		record := s.builder.Build(snapshot)
		if i, ok := index[record.Address]; ok {
			if !record.LastDetectAt.Before(out[i].LastDetectAt) {
				out[i] = record
			}
			continue
		}
		index[record.Address] = len(out)
		out = append(out, record)
	}
	return out
}

func (s *Service) notify(ctx context.Context, batch []model.DeviceRecord) {
	if len(s.opts.Observers) == 0 {
		return
	}
	all, err := s.repo.ListDevices(ctx)
	if err != nil {
		s.logger.Warn("list devices for observers failed", "err", err)
		return
	}
	for _, observer := range s.opts.Observers {
		observer.DevicesChanged(all, batch)
	}
}

func (s *Service) recordLocation(ctx context.Context, batch []model.DeviceRecord) {
	if s.opts.Locations == nil || s.opts.LocationStore == nil {
		return
	}
	location, err := s.opts.Locations.FreshLocation(ctx)
	if err != nil {
		s.logger.Warn("location unavailable", "err", err)
		return
	}
	if location == nil {
		return
	}
	// The fix belongs to the scan, so it must fall inside the detection
	// window of every record it is linked to.
	location.Time = batch[0].LastDetectAt
	addresses := make([]string, len(batch))
	for i, device := range batch {
		addresses[i] = device.Address
	}
	if _, err := s.opts.LocationStore.SaveLocation(ctx, *location, addresses); err != nil {
		s.logger.Warn("save batch location failed", "err", err, "devices", len(addresses))
	}
}

// ListDevices returns stored devices matching the filter.
func (s *Service) ListDevices(ctx context.Context, filter devicedomain.ListFilter) ([]devicedomain.Device, error) {
	devices, err := s.repo.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]devicedomain.Device, 0, len(devices))
	for _, device := range devices {
		if filter.Favorite != nil && device.Favorite != *filter.Favorite {
			continue
		}
		if query != "" && !matchesQuery(device, query) {
			continue
		}
		out = append(out, device)
	}
	return out, nil
}

// GetDevice returns one device by address.
func (s *Service) GetDevice(ctx context.Context, address string) (devicedomain.Device, error) {
	device, err := s.repo.GetDevice(ctx, model.NormalizeAddress(address))
	return device, mapNotFound(err)
}

// PatchDevice updates user owned fields.
func (s *Service) PatchDevice(ctx context.Context, address string, in devicedomain.PatchInput) (devicedomain.Device, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	device, err := s.repo.UpdateDeviceUserFields(ctx, model.NormalizeAddress(address), in)
	return device, mapNotFound(err)
}

// DeleteDevice purges a device on explicit user request.
func (s *Service) DeleteDevice(ctx context.Context, address string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return mapNotFound(s.repo.DeleteDevice(ctx, model.NormalizeAddress(address)))
}

func matchesQuery(device devicedomain.Device, query string) bool {
	for _, candidate := range []string{device.Address, device.Name, device.CustomName, device.ResolvedName()} {
		if strings.Contains(strings.ToLower(candidate), query) {
			return true
		}
	}
	return false
}

func mapNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return devicedomain.ErrDeviceNotFound
	}
	return err
}
