package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	devicedomain "github.com/micro-ha/ble-radar/internal/domain/device"
)

// ListDevices returns stored devices, most recently seen first.
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	filter := devicedomain.ListFilter{Query: r.URL.Query().Get("q")}
	if raw := strings.TrimSpace(r.URL.Query().Get("favorite")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_favorite_filter", "favorite must be true or false")
			return
		}
		filter.Favorite = &value
	}

	items, err := a.deps.Devices.ListDevices(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if items == nil {
		items = []devicedomain.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetDevice returns one device by address.
func (a *API) GetDevice(w http.ResponseWriter, r *http.Request, address string) {
	device, err := a.deps.Devices.GetDevice(r.Context(), address)
	if errors.Is(err, devicedomain.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// PatchDevice updates the user owned fields of a device.
func (a *API) PatchDevice(w http.ResponseWriter, r *http.Request, address string) {
	var payload devicedomain.PatchInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	device, err := a.deps.Devices.PatchDevice(r.Context(), address, payload)
	if err != nil {
		if errors.Is(err, devicedomain.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "patch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// DeleteDevice purges a device and its location links.
func (a *API) DeleteDevice(w http.ResponseWriter, r *http.Request, address string) {
	err := a.deps.Devices.DeleteDevice(r.Context(), address)
	if errors.Is(err, devicedomain.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
