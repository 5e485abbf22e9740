package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-ha/ble-radar/internal/model"
)

var testNow = time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

type failingHistory struct {
	t *testing.T
}

func (h failingHistory) LocationsForDevice(context.Context, string, time.Time, time.Time) ([]model.Location, error) {
	h.t.Fatalf("location history must not be queried")
	return nil, nil
}

type memoryHistory struct {
	points    []model.Location
	err       error
	from, to  time.Time
	callCount int
}

func (h *memoryHistory) LocationsForDevice(_ context.Context, _ string, from, to time.Time) ([]model.Location, error) {
	h.callCount++
	h.from, h.to = from, to
	return h.points, h.err
}

func intp(v int) *int { return &v }

func newChecker(history LocationHistory) *Checker {
	return NewChecker(history).WithClock(func() time.Time { return testNow })
}

func pixel(rssi int) model.DeviceRecord {
	return model.DeviceRecord{
		Address:       "AA:BB:CC:DD:EE:01",
		Name:          "Pixel 8",
		RSSI:          intp(rssi),
		FirstDetectAt: testNow.Add(-2 * time.Hour),
		LastDetectAt:  testNow.Add(-time.Minute),
		DetectCount:   5,
	}
}

func TestNameAndMinRSSI(t *testing.T) {
	checker := newChecker(failingHistory{t})
	node := model.AndFilter{Children: []model.FilterNode{
		model.NameFilter{Value: "Pixel"},
		model.MinRSSIFilter{RSSI: -60},
	}}

	ok, err := checker.Check(context.Background(), pixel(-55), node)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checker.Check(context.Background(), pixel(-80), node)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompositeShortCircuit(t *testing.T) {
	checker := newChecker(failingHistory{t})
	spatial := model.SeenNearLocationFilter{RadiusMeters: 10, From: testNow.Add(-time.Hour), To: testNow}
	device := pixel(-50)

	ok, err := checker.Check(context.Background(), device, model.AndFilter{Children: []model.FilterNode{
		model.NameFilter{Value: "iPhone"}, spatial,
	}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = checker.Check(context.Background(), device, model.OrFilter{Children: []model.FilterNode{
		model.NameFilter{Value: "pixel"}, spatial,
	}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyComposites(t *testing.T) {
	checker := newChecker(nil)

	ok, err := checker.Check(context.Background(), pixel(-50), model.AndFilter{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checker.Check(context.Background(), pixel(-50), model.OrFilter{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeafPredicates(t *testing.T) {
	apple := model.AppleCompanyID
	classCode := 0x0200
	device := pixel(-59)
	device.CustomName = "Work phone"
	device.Favorite = true
	device.Tags = []string{"Office"}
	device.DeviceClass = &classCode
	device.ServiceUUIDs = []string{"0000180f-0000-1000-8000-00805f9b34fb"}
	device.Manufacturer = &model.ManufacturerInfo{ID: apple, Name: "Apple, Inc."}

	cases := []struct {
		name string
		node model.FilterNode
		want bool
	}{
		{"custom name", model.NameFilter{Value: "work"}, true},
		{"address", model.AddressFilter{Address: "aa-bb-cc-dd-ee-01"}, true},
		{"manufacturer id", model.ManufacturerFilter{ID: &apple}, true},
		{"manufacturer name", model.ManufacturerFilter{Name: "apple"}, true},
		{"max rssi", model.MaxRSSIFilter{RSSI: -70}, false},
		{"max distance", model.MaxDistanceFilter{Meters: 1.5}, true},
		{"last detection", model.LastDetectionWithinFilter{Window: 5 * time.Minute}, true},
		{"first detection", model.FirstDetectionWithinFilter{Window: time.Hour}, false},
		{"min lifetime", model.MinLifetimeFilter{Lifetime: time.Hour}, true},
		{"min detect count", model.MinDetectCountFilter{Count: 6}, false},
		{"favorite", model.FavoriteFilter{Favorite: true}, true},
		{"tag", model.TagFilter{Tag: "office"}, true},
		{"paired", model.PairedFilter{Paired: true}, false},
		{"device class", model.DeviceClassFilter{Class: model.DeviceClassPhone}, true},
		{"service uuid short", model.ServiceUUIDFilter{UUID: "180F"}, true},
		{"not", model.NotFilter{Child: model.FavoriteFilter{Favorite: true}}, false},
	}
	checker := newChecker(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := checker.Check(context.Background(), device, tc.node)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestMissingAttributesAreFalse(t *testing.T) {
	checker := newChecker(nil)
	device := model.DeviceRecord{Address: "AA:BB:CC:DD:EE:01"}

	for _, node := range []model.FilterNode{
		model.MinRSSIFilter{RSSI: -100},
		model.MaxDistanceFilter{Meters: 1000},
		model.ManufacturerFilter{Name: "a"},
		model.DeviceClassFilter{Class: model.DeviceClassUncategorized},
	} {
		ok, err := checker.Check(context.Background(), device, node)
		require.NoError(t, err)
		assert.False(t, ok, "%s", node.Kind())
	}
}

func TestAirdropContactUsesPreviousSighting(t *testing.T) {
	checker := newChecker(nil)
	handle := model.SavedDeviceHandle{
		Device: model.DeviceRecord{
			Address:      "4F:00:00:00:00:01",
			LastDetectAt: testNow,
			Manufacturer: &model.ManufacturerInfo{ID: model.AppleCompanyID, AirdropContacts: []model.AirdropContact{
				{SHA256: 0xABCD, LastDetectionAt: testNow},
			}},
		},
		PreviouslySeenAt:        testNow,
		AirdropPreviouslySeenAt: map[int]time.Time{0xABCD: testNow.Add(-3 * time.Hour)},
	}
	node := model.AirdropContactFilter{SHA256: 0xABCD, MinLostTime: 2 * time.Hour}

	ok, err := checker.Check(context.Background(), handle.Device, node)
	require.NoError(t, err)
	assert.False(t, ok, "raw record was just seen")

	ok, err = checker.Check(context.Background(), handle.Adjusted(), node)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeenNearLocation(t *testing.T) {
	history := &memoryHistory{points: []model.Location{
		{Latitude: 52.2297, Longitude: 21.0122},
	}}
	checker := newChecker(history)
	device := pixel(-50)

	ok, err := checker.Check(context.Background(), device, model.SeenNearLocationFilter{
		Latitude: 52.2298, Longitude: 21.0123, RadiusMeters: 50,
		From: testNow.Add(-24 * time.Hour), To: testNow,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, device.FirstDetectAt, history.from, "window is clamped to the device lifetime")
	assert.Equal(t, device.LastDetectAt, history.to)

	ok, err = checker.Check(context.Background(), device, model.SeenNearLocationFilter{
		Latitude: 52.2298, Longitude: 21.0123, RadiusMeters: 50,
		From: testNow.Add(-48 * time.Hour), To: testNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, history.callCount, "disjoint window must not query history")

	history.err = errors.New("db closed")
	_, err = checker.Check(context.Background(), device, model.SeenNearLocationFilter{
		RadiusMeters: 50, From: testNow.Add(-time.Hour), To: testNow,
	})
	assert.ErrorIs(t, err, history.err)
}

func TestCheckIsIdempotent(t *testing.T) {
	checker := newChecker(nil)
	node := model.OrFilter{Children: []model.FilterNode{
		model.NotFilter{Child: model.NameFilter{Value: "watch"}},
		model.MinRSSIFilter{RSSI: -40},
	}}
	device := pixel(-70)

	first, err := checker.Check(context.Background(), device, node)
	require.NoError(t, err)
	second, err := checker.Check(context.Background(), device, node)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUnknownNodeIsError(t *testing.T) {
	_, err := newChecker(nil).Check(context.Background(), pixel(-50), nil)
	assert.Error(t, err)
}
