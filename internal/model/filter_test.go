package model

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterJSONRoundTripNestedTree(t *testing.T) {
	apple := AppleCompanyID
	from := time.Date(2026, 2, 18, 8, 0, 0, 0, time.UTC)
	tree := AndFilter{Children: []FilterNode{
		NameFilter{Value: "Pixel"},
		OrFilter{Children: []FilterNode{
			MinRSSIFilter{RSSI: -60},
			ManufacturerFilter{ID: &apple},
			NotFilter{Child: FavoriteFilter{Favorite: true}},
		}},
		AirdropContactFilter{SHA256: 0xBEEF, MinLostTime: 30 * time.Minute},
		AddressTypeFilter{Types: []AddressType{AddressTypePublic, AddressTypeStaticRandom}},
		SeenNearLocationFilter{
			Latitude:     52.52,
			Longitude:    13.405,
			RadiusMeters: 150,
			From:         from,
			To:           from.Add(4 * time.Hour),
		},
	}}

	raw, err := EncodeFilter(tree)
	require.NoError(t, err)

	decoded, err := DecodeFilter(raw)
	require.NoError(t, err)
	if diff := cmp.Diff(FilterNode(tree), decoded); diff != "" {
		t.Fatalf("decoded tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFilterRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown type", raw: `{"type":"telepathy"}`},
		{name: "missing value", raw: `{"type":"name"}`},
		{name: "missing child", raw: `{"type":"not"}`},
		{name: "bad child", raw: `{"type":"and","children":[{"type":"min_rssi"}]}`},
		{name: "unknown device class", raw: `{"type":"device_class","value":"toaster"}`},
		{name: "location without window", raw: `{"type":"seen_near_location","latitude":1,"longitude":2,"meters":3}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFilter([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeDeviceClassFilter(t *testing.T) {
	node, err := DecodeFilter([]byte(`{"type":"device_class","value":"audio_video"}`))
	require.NoError(t, err)
	assert.Equal(t, DeviceClassFilter{Class: DeviceClassAudioVideo}, node)
}

func TestFavoriteFilterDefaultsToTrue(t *testing.T) {
	node, err := DecodeFilter([]byte(`{"type":"favorite"}`))
	require.NoError(t, err)
	assert.Equal(t, FavoriteFilter{Favorite: true}, node)
}

func TestRadarProfileJSON(t *testing.T) {
	profile := RadarProfile{
		ID:       7,
		Name:     "pixel nearby",
		Active:   true,
		Cooldown: 5 * time.Minute,
		Filter:   AndFilter{Children: []FilterNode{NameFilter{Value: "Pixel"}, MinRSSIFilter{RSSI: -60}}},
	}
	raw, err := profile.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cooldown_ms":300000`)

	var decoded RadarProfile
	require.NoError(t, decoded.UnmarshalJSON(raw))
	if diff := cmp.Diff(profile, decoded); diff != "" {
		t.Fatalf("profile mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, decoded.Validate())
	assert.Error(t, RadarProfile{Name: "x"}.Validate())
}
