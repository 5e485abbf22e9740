package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/storage"
)

// ListProfiles returns every radar profile.
func (a *API) ListProfiles(w http.ResponseWriter, r *http.Request) {
	items, err := a.deps.Profiles.ListProfiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if items == nil {
		items = []model.RadarProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// CreateProfile stores a new profile. The filter is validated by decoding.
func (a *API) CreateProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := decodeProfile(w, r)
	if !ok {
		return
	}
	created, err := a.deps.Profiles.CreateProfile(r.Context(), profile)
	if err != nil {
		a.writeProfileError(w, err, "create_failed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetProfile returns one profile.
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	profile, err := a.deps.Profiles.GetProfile(r.Context(), id)
	if err != nil {
		a.writeProfileError(w, err, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile replaces a profile.
func (a *API) UpdateProfile(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	profile, ok := decodeProfile(w, r)
	if !ok {
		return
	}
	profile.ID = id
	if err := a.deps.Profiles.UpdateProfile(r.Context(), profile); err != nil {
		a.writeProfileError(w, err, "update_failed")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// DeleteProfile removes a profile and its detect log.
func (a *API) DeleteProfile(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	if err := a.deps.Profiles.DeleteProfile(r.Context(), id); err != nil {
		a.writeProfileError(w, err, "delete_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProfileDetects returns recent matches of a profile.
func (a *API) ListProfileDetects(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	items, err := a.deps.Profiles.ListProfileDetects(r.Context(), id, limit)
	if err != nil {
		a.writeProfileError(w, err, "list_failed")
		return
	}
	if items == nil {
		items = []model.ProfileDetect{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func decodeProfile(w http.ResponseWriter, r *http.Request) (model.RadarProfile, bool) {
	var profile model.RadarProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return model.RadarProfile{}, false
	}
	if err := profile.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_profile", err.Error())
		return model.RadarProfile{}, false
	}
	return profile, true
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (a *API) writeProfileError(w http.ResponseWriter, err error, code string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Profile not found")
	case errors.Is(err, storage.ErrDuplicateProfile):
		writeError(w, http.StatusConflict, "duplicate_profile", err.Error())
	default:
		a.logger.Error("profile request failed", "err", err)
		writeError(w, http.StatusInternalServerError, code, err.Error())
	}
}
