package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devicedomain "github.com/micro-ha/ble-radar/internal/domain/device"
	"github.com/micro-ha/ble-radar/internal/events"
	"github.com/micro-ha/ble-radar/internal/http/handlers"
	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/planner"
	"github.com/micro-ha/ble-radar/internal/storage"
)

type fakeDevices struct {
	devices map[string]devicedomain.Device
	filter  devicedomain.ListFilter
}

func (f *fakeDevices) MergeAndPersist(context.Context, []devicedomain.Snapshot) (devicedomain.MergeResult, error) {
	return devicedomain.MergeResult{}, nil
}

func (f *fakeDevices) ListDevices(_ context.Context, filter devicedomain.ListFilter) ([]devicedomain.Device, error) {
	f.filter = filter
	var out []devicedomain.Device
	for _, device := range f.devices {
		out = append(out, device)
	}
	return out, nil
}

func (f *fakeDevices) GetDevice(_ context.Context, address string) (devicedomain.Device, error) {
	device, ok := f.devices[model.NormalizeAddress(address)]
	if !ok {
		return devicedomain.Device{}, devicedomain.ErrDeviceNotFound
	}
	return device, nil
}

func (f *fakeDevices) PatchDevice(ctx context.Context, address string, in devicedomain.PatchInput) (devicedomain.Device, error) {
	device, err := f.GetDevice(ctx, address)
	if err != nil {
		return device, err
	}
	if in.CustomName != nil {
		device.CustomName = *in.CustomName
	}
	f.devices[device.Address] = device
	return device, nil
}

func (f *fakeDevices) DeleteDevice(ctx context.Context, address string) error {
	if _, err := f.GetDevice(ctx, address); err != nil {
		return err
	}
	delete(f.devices, model.NormalizeAddress(address))
	return nil
}

type fakeProfiles struct {
	profiles map[int64]model.RadarProfile
	nextID   int64
}

func (f *fakeProfiles) ListProfiles(context.Context) ([]model.RadarProfile, error) {
	var out []model.RadarProfile
	for _, profile := range f.profiles {
		out = append(out, profile)
	}
	return out, nil
}

func (f *fakeProfiles) GetProfile(_ context.Context, id int64) (model.RadarProfile, error) {
	profile, ok := f.profiles[id]
	if !ok {
		return model.RadarProfile{}, storage.ErrNotFound
	}
	return profile, nil
}

func (f *fakeProfiles) CreateProfile(_ context.Context, profile model.RadarProfile) (model.RadarProfile, error) {
	for _, existing := range f.profiles {
		if existing.Name == profile.Name {
			return model.RadarProfile{}, storage.ErrDuplicateProfile
		}
	}
	f.nextID++
	profile.ID = f.nextID
	f.profiles[profile.ID] = profile
	return profile, nil
}

func (f *fakeProfiles) UpdateProfile(_ context.Context, profile model.RadarProfile) error {
	if _, ok := f.profiles[profile.ID]; !ok {
		return storage.ErrNotFound
	}
	f.profiles[profile.ID] = profile
	return nil
}

func (f *fakeProfiles) DeleteProfile(_ context.Context, id int64) error {
	if _, ok := f.profiles[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.profiles, id)
	return nil
}

func (f *fakeProfiles) ListProfileDetects(context.Context, int64, int) ([]model.ProfileDetect, error) {
	return nil, nil
}

type fakeJournal struct {
	limit int
}

func (f *fakeJournal) List(_ context.Context, limit int) ([]model.JournalEntry, error) {
	f.limit = limit
	return []model.JournalEntry{{ID: "1", Kind: model.JournalKindError, Title: "radio off"}}, nil
}

type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) TriggerScan() { c.calls.Add(1) }

type staticPlanner struct{}

func (staticPlanner) Status() planner.Status {
	return planner.Status{Parallelism: 7}
}

type testEnv struct {
	handler  http.Handler
	devices  *fakeDevices
	profiles *fakeProfiles
	journal  *fakeJournal
	trigger  *countingTrigger
	hub      *events.Hub
}

func newTestEnv(withPlanner bool) *testEnv {
	env := &testEnv{
		devices: &fakeDevices{devices: map[string]devicedomain.Device{
			"AA:BB:CC:DD:EE:01": {Address: "AA:BB:CC:DD:EE:01", Name: "Pixel 8", DetectCount: 2},
		}},
		profiles: &fakeProfiles{profiles: map[int64]model.RadarProfile{}},
		journal:  &fakeJournal{},
		trigger:  &countingTrigger{},
		hub:      events.NewHub(4, nil),
	}
	deps := handlers.Deps{
		Devices:  env.devices,
		Profiles: env.profiles,
		Journal:  env.journal,
		Scanner:  env.trigger,
		Events:   env.hub,
	}
	if withPlanner {
		deps.Planner = staticPlanner{}
	}
	env.handler = NewRouter(handlers.New(deps, nil), promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}))
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(false)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", "").Code)
}

func TestDeviceRoutes(t *testing.T) {
	env := newTestEnv(false)

	rec := env.do(t, http.MethodGet, "/api/devices?q=pixel&favorite=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pixel", env.devices.filter.Query)
	require.NotNil(t, env.devices.filter.Favorite)
	assert.True(t, *env.devices.filter.Favorite)

	rec = env.do(t, http.MethodGet, "/api/devices?favorite=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_favorite_filter", errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/api/devices/aa:bb:cc:dd:ee:02", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = env.do(t, http.MethodPatch, "/api/devices/aa:bb:cc:dd:ee:01", `{"custom_name":"Work phone"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var patched model.DeviceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patched))
	assert.Equal(t, "Work phone", patched.CustomName)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/devices/AA:BB:CC:DD:EE:01", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/devices/AA:BB:CC:DD:EE:01", "").Code)
}

func TestProfileRoutes(t *testing.T) {
	env := newTestEnv(false)
	valid := `{"name":"pixel","active":true,"cooldown_ms":300000,"filter":{"type":"name","value":"Pixel"}}`

	rec := env.do(t, http.MethodPost, "/api/profiles", valid)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.RadarProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, 5*time.Minute, created.Cooldown)

	rec = env.do(t, http.MethodPost, "/api/profiles", valid)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/profiles", `{"name":"bad","filter":{"type":"moon_phase"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/profiles", `{"name":"nofilter"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_profile", errorCode(t, rec))

	rec = env.do(t, http.MethodPut, "/api/profiles/1", `{"name":"pixel","active":false,"filter":{"type":"name","value":"Pixel"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.profiles.profiles[1].Active)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/profiles/abc", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/profiles/1/detects", "").Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/profiles/1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/profiles/1", "").Code)
}

func TestJournalScanAndPlanner(t *testing.T) {
	env := newTestEnv(false)

	rec := env.do(t, http.MethodGet, "/api/journal?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, env.journal.limit)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/journal?limit=-1", "").Code)

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/scan", "").Code)
	assert.Equal(t, int32(1), env.trigger.calls.Load())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/planner", "").Code)

	rec = newTestEnv(true).do(t, http.MethodGet, "/api/planner", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status planner.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 7, status.Parallelism)
}

func TestStreamPushesEvents(t *testing.T) {
	env := newTestEnv(false)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	env.hub.Publish(events.Event{Kind: events.KindJournal, Payload: map[string]string{"title": "matched"}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got struct {
		Kind    events.Kind       `json:"kind"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.KindJournal, got.Kind)
	assert.Equal(t, "matched", got.Payload["title"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
