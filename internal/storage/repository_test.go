package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-ha/ble-radar/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := New(context.Background(), filepath.Join(t.TempDir(), "radar.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func intPtrOf(v int) *int { return &v }

func sampleDevice(address string, at time.Time) model.DeviceRecord {
	return model.DeviceRecord{
		Address:       address,
		Name:          "Pixel 8",
		FirstDetectAt: at,
		LastDetectAt:  at,
		DetectCount:   1,
		Tags:          []string{},
		RSSI:          intPtrOf(-55),
		Connectable:   true,
		ServiceUUIDs:  []string{"180f"},
		Manufacturer: &model.ManufacturerInfo{
			ID:   model.AppleCompanyID,
			Name: "Apple, Inc.",
			AirdropContacts: []model.AirdropContact{
				{SHA256: 0xABCD, AssociatedAddress: address, LastDetectionAt: at},
			},
		},
		RawAdvertisement: []byte{0x02, 0x01, 0x06},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radar.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := New(context.Background(), path, logger)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(context.Background(), path, logger)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSaveScanBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	device := sampleDevice("AA:BB:CC:DD:EE:01", at)

	err := repo.SaveScanBatch(ctx, []model.DeviceRecord{device}, device.Manufacturer.AirdropContacts)
	require.NoError(t, err)

	got, err := repo.DevicesByAddresses(ctx, []string{device.Address, "00:00:00:00:00:00"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, device.Name, got[device.Address].Name)
	assert.Equal(t, -55, *got[device.Address].RSSI)
	assert.True(t, got[device.Address].LastDetectAt.Equal(at))
	assert.Equal(t, []string{"180f"}, got[device.Address].ServiceUUIDs)
	require.NotNil(t, got[device.Address].Manufacturer)
	assert.Len(t, got[device.Address].Manufacturer.AirdropContacts, 1)

	contacts, err := repo.ContactsByHashes(ctx, []int{0xABCD, 0x0001})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, device.Address, contacts[0xABCD].AssociatedAddress)
	assert.True(t, contacts[0xABCD].LastDetectionAt.Equal(at))
}

func TestDevicesByAddressesBatchesLargeLookups(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

	devices := make([]model.DeviceRecord, 0, 1500)
	addresses := make([]string, 0, 1500)
	for i := 0; i < 1500; i++ {
		address := fmt.Sprintf("AA:BB:CC:DD:%02X:%02X", i/256, i%256)
		devices = append(devices, model.DeviceRecord{Address: address, FirstDetectAt: at, LastDetectAt: at, DetectCount: 1})
		addresses = append(addresses, address)
	}
	require.NoError(t, repo.SaveScanBatch(ctx, devices, nil))

	got, err := repo.DevicesByAddresses(ctx, addresses)
	require.NoError(t, err)
	assert.Len(t, got, 1500)
}

func TestSaveDeviceMetadataTouchesOnlyMetadata(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	device := sampleDevice("AA:BB:CC:DD:EE:02", at)
	require.NoError(t, repo.SaveScanBatch(ctx, []model.DeviceRecord{device}, nil))

	battery := 80
	require.NoError(t, repo.SaveDeviceMetadata(ctx, device.Address, model.DeviceMetadata{ModelNumber: "Pixel 8", BatteryLevel: &battery}))

	got, err := repo.GetDevice(ctx, device.Address)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "Pixel 8", got.Metadata.ModelNumber)
	assert.Equal(t, 80, *got.Metadata.BatteryLevel)
	assert.Equal(t, 1, got.DetectCount)

	err = repo.SaveDeviceMetadata(ctx, "00:00:00:00:00:00", model.DeviceMetadata{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveScanBatchKeepsUserFieldsAndMetadata(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	stale := sampleDevice("AA:BB:CC:DD:EE:04", at)
	require.NoError(t, repo.SaveScanBatch(ctx, []model.DeviceRecord{stale}, nil))

	name := "Keys"
	favorite := true
	_, err := repo.UpdateDeviceUserFields(ctx, stale.Address, model.DeviceUserFields{
		CustomName: &name,
		Favorite:   &favorite,
		Tags:       []string{"car"},
	})
	require.NoError(t, err)
	require.NoError(t, repo.SaveDeviceMetadata(ctx, stale.Address, model.DeviceMetadata{DeviceName: "Tile"}))

	merged := stale.MergeWithNewDetected(sampleDevice(stale.Address, at.Add(time.Minute)))
	require.NoError(t, repo.SaveScanBatch(ctx, []model.DeviceRecord{merged}, nil))

	got, err := repo.GetDevice(ctx, stale.Address)
	require.NoError(t, err)
	assert.Equal(t, 2, got.DetectCount)
	assert.True(t, got.LastDetectAt.Equal(at.Add(time.Minute)))
	assert.Equal(t, "Keys", got.CustomName)
	assert.True(t, got.Favorite)
	assert.Equal(t, []string{"car"}, got.Tags)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "Tile", got.Metadata.DeviceName)
}

func TestUpdateDeviceUserFieldsAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	device := sampleDevice("AA:BB:CC:DD:EE:03", at)
	require.NoError(t, repo.SaveScanBatch(ctx, []model.DeviceRecord{device}, nil))

	name := "Office phone"
	favorite := true
	got, err := repo.UpdateDeviceUserFields(ctx, device.Address, model.DeviceUserFields{
		CustomName: &name,
		Favorite:   &favorite,
		Tags:       []string{"work", "Work", " phone "},
	})
	require.NoError(t, err)
	assert.Equal(t, "Office phone", got.CustomName)
	assert.True(t, got.Favorite)
	assert.Equal(t, []string{"phone", "work"}, got.Tags)

	require.NoError(t, repo.DeleteDevice(ctx, device.Address))
	_, err = repo.GetDevice(ctx, device.Address)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteDevice(ctx, device.Address), ErrNotFound)
}

func TestProfilesAndDetects(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	profile := model.RadarProfile{
		Name:     "pixel",
		Active:   true,
		Cooldown: 5 * time.Minute,
		Filter:   model.AndFilter{Children: []model.FilterNode{model.NameFilter{Value: "Pixel"}}},
	}

	created, err := repo.CreateProfile(ctx, profile)
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	_, err = repo.CreateProfile(ctx, profile)
	assert.ErrorIs(t, err, ErrDuplicateProfile)

	latest, err := repo.LatestProfileDetect(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	t0 := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveProfileDetects(ctx, []model.ProfileDetect{
		{ProfileID: created.ID, TriggeredAt: t0, Address: "A"},
		{ProfileID: created.ID, TriggeredAt: t0.Add(time.Minute), Address: "B"},
	}))
	latest, err = repo.LatestProfileDetect(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "B", latest.Address)
	assert.True(t, latest.TriggeredAt.Equal(t0.Add(time.Minute)))

	created.Active = false
	require.NoError(t, repo.UpdateProfile(ctx, created))
	stored, err := repo.GetProfile(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, 5*time.Minute, stored.Cooldown)
	assert.Equal(t, profile.Filter, stored.Filter)

	require.NoError(t, repo.DeleteProfile(ctx, created.ID))
	_, err = repo.GetProfile(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	detects, err := repo.ListProfileDetects(ctx, created.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, detects)
}

func TestLocationsForDeviceWindow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	t0 := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

	_, err := repo.SaveLocation(ctx, model.Location{Latitude: 1, Longitude: 2, Time: t0}, []string{"A", "B"})
	require.NoError(t, err)
	_, err = repo.SaveLocation(ctx, model.Location{Latitude: 3, Longitude: 4, Time: t0.Add(time.Hour)}, []string{"A"})
	require.NoError(t, err)

	got, err := repo.LocationsForDevice(ctx, "A", t0.Add(-time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Latitude)

	got, err = repo.LocationsForDevice(ctx, "B", t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestJournalAppendAndList(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	t0 := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	profileID := int64(4)

	require.NoError(t, repo.AppendJournal(ctx, model.JournalEntry{
		ID: "one", CreatedAt: t0, Kind: model.JournalKindError, Title: "boom", Details: "details",
	}))
	require.NoError(t, repo.AppendJournal(ctx, model.JournalEntry{
		ID: "two", CreatedAt: t0.Add(time.Second), Kind: model.JournalKindProfileReport,
		ProfileID: &profileID, ProfileName: "pixel", Addresses: []string{"A"},
		Location: &model.Location{Latitude: 1, Longitude: 2, Time: t0},
	}))

	entries, err := repo.ListJournal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].ID)
	assert.Equal(t, []string{"A"}, entries[0].Addresses)
	require.NotNil(t, entries[0].Location)
	assert.Equal(t, int64(4), *entries[0].ProfileID)
	assert.Equal(t, "boom", entries[1].Title)
	assert.Nil(t, entries[1].Location)
}

func TestSaveScanBatchRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewWithDB(db, nil)
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	failure := errors.New("disk I/O error")

	mock.ExpectBegin()
	prepare := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO devices"))
	prepare.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prepare.ExpectExec().WillReturnError(failure)
	mock.ExpectRollback()

	err = repo.SaveScanBatch(context.Background(), []model.DeviceRecord{
		sampleDevice("AA:BB:CC:DD:EE:10", at),
		sampleDevice("AA:BB:CC:DD:EE:11", at),
	}, nil)

	require.ErrorIs(t, err, failure)
	require.NoError(t, mock.ExpectationsWereMet())
}
