package gatt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/radio"
	"github.com/micro-ha/ble-radar/internal/radio/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testAddress = "AA:BB:CC:DD:EE:01"

func long(short string) string {
	return "0000" + short + "-0000-1000-8000-00805f9b34fb"
}

func fullPeripheral() mock.Peripheral {
	return mock.Peripheral{
		Services: []radio.Service{
			{UUID: long("1801"), Characteristics: []radio.Characteristic{{ServiceUUID: long("1801"), UUID: long("2a05")}}},
			{UUID: long("1800"), Characteristics: []radio.Characteristic{{ServiceUUID: long("1800"), UUID: long("2a00")}}},
			{UUID: long("180a"), Characteristics: []radio.Characteristic{
				{ServiceUUID: long("180a"), UUID: long("2a29")},
				{ServiceUUID: long("180a"), UUID: long("2a24")},
				{ServiceUUID: long("180a"), UUID: long("2a25")},
			}},
			{UUID: long("180f"), Characteristics: []radio.Characteristic{{ServiceUUID: long("180f"), UUID: long("2a19")}}},
		},
		Values: map[string][]byte{
			long("2a00"): []byte("Pixel\x00"),
			long("2a29"): []byte(" Google "),
			long("2a24"): []byte("Pixel 8 Pro"),
			long("2a19"): {87},
			long("2a05"): {1},
		},
	}
}

func TestFetchReadsRelevantCharacteristics(t *testing.T) {
	driver := mock.New()
	driver.SetPeripheral(testAddress, fullPeripheral())
	fetcher := NewFetcher(driver, nil)

	metadata, err := fetcher.Fetch(context.Background(), model.DeviceRecord{Address: testAddress})

	require.NoError(t, err)
	require.NotNil(t, metadata)
	assert.Equal(t, "Pixel", metadata.DeviceName)
	assert.Equal(t, "Google", metadata.ManufacturerName)
	assert.Equal(t, "Pixel 8 Pro", metadata.ModelNumber)
	assert.Empty(t, metadata.SerialNumber)
	require.NotNil(t, metadata.BatteryLevel)
	assert.Equal(t, 87, *metadata.BatteryLevel)
	assert.Equal(t, "Pixel 8 Pro", metadata.DisplayName())
	assert.Zero(t, driver.OpenConnections())
}

func TestFetchWithoutRelevantServicesKeepsMetadata(t *testing.T) {
	driver := mock.New()
	driver.SetPeripheral(testAddress, mock.Peripheral{
		Services: []radio.Service{{UUID: long("1801")}},
	})
	previous := &model.DeviceMetadata{DeviceName: "Old"}
	fetcher := NewFetcher(driver, nil)

	metadata, err := fetcher.Fetch(context.Background(), model.DeviceRecord{Address: testAddress, Metadata: previous})

	require.NoError(t, err)
	assert.Equal(t, previous, metadata)
	assert.NotSame(t, previous, metadata)
}

func TestFetchConnectFailureMapsReason(t *testing.T) {
	driver := mock.New()
	driver.SetPeripheral(testAddress, mock.Peripheral{ConnectStatus: radio.StatusTooManyClients})
	previous := &model.DeviceMetadata{DeviceName: "Old"}
	fetcher := NewFetcher(driver, nil)

	metadata, err := fetcher.Fetch(context.Background(), model.DeviceRecord{Address: testAddress, Metadata: previous})

	var disconnect *DisconnectError
	require.ErrorAs(t, err, &disconnect)
	assert.Equal(t, radio.ReasonTooManyClients, disconnect.Reason)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, ErrTooManyConnections)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, radio.StatusTooManyClients, status.Status)
	assert.Same(t, previous, metadata)
}

func TestFetchConnectTimeoutWrapsStatus(t *testing.T) {
	driver := mock.New()
	driver.SetPeripheral(testAddress, mock.Peripheral{ConnectStatus: radio.StatusTimeout})
	fetcher := NewFetcher(driver, nil)

	_, err := fetcher.Fetch(context.Background(), model.DeviceRecord{Address: testAddress})

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, radio.StatusTimeout, status.Status)
	assert.NotErrorIs(t, err, ErrTooManyConnections)
	assert.False(t, IsExhausted(err))
}

func TestFetchMaxConnectionsReached(t *testing.T) {
	driver := mock.New()
	driver.SetPeripheral(testAddress, mock.Peripheral{MaxConnections: true})
	fetcher := NewFetcher(driver, nil)

	_, err := fetcher.Fetch(context.Background(), model.DeviceRecord{Address: testAddress})

	assert.ErrorIs(t, err, ErrTooManyConnections)
	assert.True(t, IsExhausted(err))
	assert.Zero(t, driver.OpenConnections())
}

func TestFetchErrorAfterRequestedDisconnectCountsAsSuccess(t *testing.T) {
	driver := mock.New()
	p := fullPeripheral()
	p.DisconnectStatus = radio.StatusTimeout
	driver.SetPeripheral(testAddress, p)
	fetcher := NewFetcher(driver, nil)

	metadata, err := fetcher.Fetch(context.Background(), model.DeviceRecord{Address: testAddress})

	require.NoError(t, err)
	assert.Equal(t, "Pixel", metadata.DeviceName)
}

func TestFetchForceClosesUnconfirmedDisconnect(t *testing.T) {
	driver := mock.New()
	p := fullPeripheral()
	p.IgnoreDisconnect = true
	driver.SetPeripheral(testAddress, p)
	fetcher := NewFetcher(driver, nil)
	fetcher.forceCloseAfter = 10 * time.Millisecond

	start := time.Now()
	metadata, err := fetcher.Fetch(context.Background(), model.DeviceRecord{Address: testAddress})

	require.NoError(t, err)
	assert.Equal(t, "Pixel 8 Pro", metadata.ModelNumber)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, driver.OpenConnections())
}

func TestFetchCancelClosesConnection(t *testing.T) {
	driver := mock.New()
	driver.SetPeripheral(testAddress, mock.Peripheral{ConnectDelay: time.Hour})
	previous := &model.DeviceMetadata{SerialNumber: "42"}
	fetcher := NewFetcher(driver, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	metadata, err := fetcher.Fetch(ctx, model.DeviceRecord{Address: testAddress, Metadata: previous})

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Same(t, previous, metadata)
	assert.Zero(t, driver.OpenConnections())
}

func TestShortUUID(t *testing.T) {
	cases := map[string]uint16{
		"2a00":                                 0x2A00,
		"0x180F":                               0x180F,
		"00002a19":                             0x2A19,
		"0000180A-0000-1000-8000-00805F9B34FB": 0x180A,
	}
	for in, want := range cases {
		got, ok := model.ShortUUID(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := model.ShortUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	assert.False(t, ok)
}
