package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-ha/ble-radar/internal/model"
)

type fakeCompanies map[int]string

func (f fakeCompanies) Lookup(id int) string {
	if name, ok := f[id]; ok {
		return name
	}
	return "Unknown"
}

func airdropAdvertisement() []byte {
	airdrop := []byte{
		0x05, 0x12, // type, length
		0, 0, 0, 0, 0, 0, 0, 0, // zero padding
		0x01,       // version
		0xAB, 0xCD, // apple id hash
		0x12, 0x34, // phone hash
		0x00, 0x00, // email hash absent
		0x12, 0x34, // email2 repeats phone
		0x00,
	}
	manufacturer := append([]byte{0x4C, 0x00}, airdrop...)
	raw := []byte{0x02, 0x01, 0x06} // flags
	raw = append(raw, byte(len(manufacturer)+1), 0xFF)
	return append(raw, manufacturer...)
}

func TestParseAdvertisementStopsAtTruncation(t *testing.T) {
	raw := []byte{0x02, 0x01, 0x06, 0x05, 0x09, 'a'}

	got := ParseAdvertisement(raw)

	require.Len(t, got, 1)
	assert.Equal(t, byte(0x01), got[0].Type)
	assert.Equal(t, []byte{0x06}, got[0].Data)
}

func TestDecodeAppleAirdropContacts(t *testing.T) {
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	decoder := NewDecoder(fakeCompanies{model.AppleCompanyID: "Apple, Inc."})

	info := decoder.Decode(airdropAdvertisement(), "4F:00:00:00:00:01", at)

	require.NotNil(t, info)
	assert.Equal(t, model.AppleCompanyID, info.ID)
	assert.Equal(t, "Apple, Inc.", info.Name)
	assert.Equal(t, []model.AirdropContact{
		{SHA256: 0xABCD, AssociatedAddress: "4F:00:00:00:00:01", LastDetectionAt: at},
		{SHA256: 0x1234, AssociatedAddress: "4F:00:00:00:00:01", LastDetectionAt: at},
	}, info.AirdropContacts)
}

func TestDecodeWithoutManufacturerData(t *testing.T) {
	decoder := NewDecoder(fakeCompanies{})

	assert.Nil(t, decoder.Decode([]byte{0x02, 0x01, 0x06}, "AA", time.Now()))
}

func TestDecodeNonAppleHasNoContacts(t *testing.T) {
	decoder := NewDecoder(fakeCompanies{0x0075: "Samsung"})
	raw := []byte{0x05, 0xFF, 0x75, 0x00, 0x01, 0x02}

	info := decoder.Decode(raw, "AA", time.Now())

	require.NotNil(t, info)
	assert.Equal(t, 0x0075, info.ID)
	assert.Equal(t, "Samsung", info.Name)
	assert.Empty(t, info.AirdropContacts)
}

func TestBuildCreatesFirstSighting(t *testing.T) {
	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	rssi := -61
	builder := NewBuilder(NewDecoder(fakeCompanies{model.AppleCompanyID: "Apple, Inc."}))

	record := builder.Build(model.DeviceSnapshot{
		Address:          "4f-00-00-00-00-01",
		Name:             " iPhone ",
		ScannedAt:        at,
		RawAdvertisement: airdropAdvertisement(),
		RSSI:             &rssi,
		ServiceUUIDs:     []string{"0000180F-0000-1000-8000-00805F9B34FB"},
		Connectable:      true,
	})

	assert.Equal(t, "4F:00:00:00:00:01", record.Address)
	assert.Equal(t, "iPhone", record.Name)
	assert.Equal(t, 1, record.DetectCount)
	assert.Equal(t, at, record.FirstDetectAt)
	assert.Equal(t, at, record.LastDetectAt)
	assert.True(t, record.Connectable)
	assert.Equal(t, []string{"0000180f-0000-1000-8000-00805f9b34fb"}, record.ServiceUUIDs)
	require.NotNil(t, record.Manufacturer)
	assert.Len(t, record.Manufacturer.AirdropContacts, 2)
	assert.Equal(t, "4F:00:00:00:00:01", record.Manufacturer.AirdropContacts[0].AssociatedAddress)
}
