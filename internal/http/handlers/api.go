package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	devicedomain "github.com/micro-ha/ble-radar/internal/domain/device"
	"github.com/micro-ha/ble-radar/internal/events"
	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/planner"
)

// ScanTrigger requests an immediate scan cycle.
type ScanTrigger interface {
	TriggerScan()
}

// ProfileStore is the profile CRUD surface of the store.
type ProfileStore interface {
	ListProfiles(ctx context.Context) ([]model.RadarProfile, error)
	GetProfile(ctx context.Context, id int64) (model.RadarProfile, error)
	CreateProfile(ctx context.Context, profile model.RadarProfile) (model.RadarProfile, error)
	UpdateProfile(ctx context.Context, profile model.RadarProfile) error
	DeleteProfile(ctx context.Context, id int64) error
	ListProfileDetects(ctx context.Context, profileID int64, limit int) ([]model.ProfileDetect, error)
}

// JournalReader lists recent journal entries.
type JournalReader interface {
	List(ctx context.Context, limit int) ([]model.JournalEntry, error)
}

// PlannerStatus exposes deep analysis state.
type PlannerStatus interface {
	Status() planner.Status
}

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}

// Deps groups handler collaborators. Planner may be nil when deep analysis
// is disabled.
type Deps struct {
	Devices  devicedomain.Service
	Profiles ProfileStore
	Journal  JournalReader
	Scanner  ScanTrigger
	Planner  PlannerStatus
	Events   EventSource
}

// API groups HTTP handlers and dependencies.
type API struct {
	deps   Deps
	logger *slog.Logger
}

// New creates HTTP handlers with explicit dependencies.
func New(deps Deps, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{deps: deps, logger: logger}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports service liveness.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// TriggerScan starts a scan cycle asynchronously.
func (a *API) TriggerScan(w http.ResponseWriter, _ *http.Request) {
	a.deps.Scanner.TriggerScan()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// PlannerStatus reports parallelism, cooldown and the last run.
func (a *API) PlannerStatus(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Planner == nil {
		writeError(w, http.StatusNotFound, "deep_analysis_disabled", "Deep analysis is disabled")
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Planner.Status())
}

// ListJournal returns the newest journal entries.
func (a *API) ListJournal(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	items, err := a.deps.Journal.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if items == nil {
		items = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
