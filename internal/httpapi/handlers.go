package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"schoolbell/internal/authoring"
	"schoolbell/internal/dispatch"
	"schoolbell/internal/export"
	"schoolbell/internal/relay"
	"schoolbell/internal/schedule"
	"schoolbell/internal/session"
	"schoolbell/internal/storage"
	"schoolbell/internal/tick"
	logx "schoolbell/pkg/logx"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

func (h *Handler) location() *time.Location {
	if h.Tick != nil {
		return h.Tick.Location()
	}
	return time.Local
}

// ---- public ----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Uptime    string           `json:"uptime"`
	Scheduler *tick.Snapshot   `json:"scheduler,omitempty"`
	Alarms    []dispatch.Alarm `json:"alarms"`
	Dispatch  *dispatch.Stats  `json:"dispatch,omitempty"`
	Relay     *relay.Stats     `json:"relay,omitempty"`
	Listeners int              `json:"listeners"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Uptime: h.Clock.Now().Sub(h.started).Truncate(time.Second).String(),
		Alarms: []dispatch.Alarm{},
	}
	if h.Tick != nil {
		snap := h.Tick.Snapshot()
		resp.Scheduler = &snap
	}
	if h.Dispatcher != nil {
		st := h.Dispatcher.Stats()
		resp.Dispatch = &st
		resp.Alarms = h.Dispatcher.Alarms().Snapshot()
	}
	if h.Relay != nil {
		st := h.Relay.Stats()
		resp.Relay = &st
	}
	if h.WS != nil {
		resp.Listeners = h.WS.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

type deviceScheduleResponse struct {
	SchoolID   string          `json:"schoolId"`
	Date       string          `json:"date"`
	Weekday    string          `json:"weekday"`
	Source     schedule.Source `json:"source"`
	ScheduleID string          `json:"scheduleId,omitempty"`
	Bells      []schedule.Bell `json:"bells"`
}

// DeviceSchedule returns the enabled bells a device should ring today (or on
// ?date=YYYY-MM-DD), after holiday and override rules. The device authenticates
// with its school's X-API-Key.
func (h *Handler) DeviceSchedule(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing X-API-Key")
		return
	}
	t, err := h.Store.GetTenantByAPIKey(r.Context(), key)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown API key")
		return
	}

	loc := h.location()
	day := h.Clock.Now().In(loc)
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.ParseInLocation("2006-01-02", q, loc)
		if err != nil || !schedule.ValidDate(q) {
			writeErrorFields(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid date", map[string]string{"date": "isodate"})
			return
		}
		day = parsed
	}
	m := schedule.Normalize(day)

	res, err := h.resolver.ResolveEffectiveSchedule(r.Context(), t.ID, m.Date)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	bells := []schedule.Bell{}
	if res.ScheduleID != "" {
		all, err := h.Store.GetBellsForSchedule(r.Context(), res.ScheduleID)
		if err != nil {
			writeServiceError(w, h.Log, err)
			return
		}
		bells = schedule.DayPlan(all, m.Weekday)
	}
	writeJSON(w, http.StatusOK, deviceScheduleResponse{
		SchoolID:   t.ID,
		Date:       m.Date,
		Weekday:    m.Weekday,
		Source:     res.Source,
		ScheduleID: res.ScheduleID,
		Bells:      bells,
	})
}

// ---- authenticated ----

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.GetTenant(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "school not found")
		return
	}
	sess, _ := session.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"school": t, "user": sess.User})
}

type scheduleListResponse struct {
	ActiveScheduleID string                 `json:"activeScheduleId,omitempty"`
	Schedules        []schedule.ScheduleSet `json:"schedules"`
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOf(r)
	sets, err := h.Store.ListSchedules(r.Context(), tenant)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	active, err := h.Store.GetActiveScheduleID(r.Context(), tenant)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if sets == nil {
		sets = []schedule.ScheduleSet{}
	}
	writeJSON(w, http.StatusOK, scheduleListResponse{ActiveScheduleID: active, Schedules: sets})
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	set, err := h.Authoring.CreateSchedule(r.Context(), tenantOf(r), req.Name)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, set)
}

// ownedSchedule loads the URL's schedule with bells and writes the error
// response itself when the caller may not see it.
func (h *Handler) ownedSchedule(w http.ResponseWriter, r *http.Request) (*schedule.ScheduleSet, bool) {
	set, err := h.Store.GetSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return nil, false
	}
	if set == nil {
		writeServiceError(w, h.Log, storage.ErrNotFound)
		return nil, false
	}
	if set.TenantID != tenantOf(r) {
		writeServiceError(w, h.Log, authoring.ErrForeignSchedule)
		return nil, false
	}
	return set, true
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	set, ok := h.ownedSchedule(w, r)
	if !ok {
		return
	}
	if set.Bells == nil {
		set.Bells = []schedule.Bell{}
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) RenameSchedule(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Authoring.RenameSchedule(r.Context(), tenantOf(r), chi.URLParam(r, "scheduleID"), req.Name); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.Authoring.DeleteSchedule(r.Context(), tenantOf(r), chi.URLParam(r, "scheduleID")); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type activeRequest struct {
	ScheduleID string `json:"scheduleId"`
}

// SetActiveSchedule points the school at a schedule; an empty id clears it.
func (h *Handler) SetActiveSchedule(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Authoring.SetActiveSchedule(r.Context(), tenantOf(r), req.ScheduleID); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bellRequest is a new bell. Enabled defaults to true.
type bellRequest struct {
	Day           string            `json:"day"`
	Time          string            `json:"time"`
	Name          string            `json:"name"`
	Enabled       *bool             `json:"enabled,omitempty"`
	BellType      schedule.BellType `json:"bellType"`
	BreakDuration int               `json:"breakDuration"`
	SoundID       string            `json:"soundId,omitempty"`
}

func (h *Handler) AddBell(w http.ResponseWriter, r *http.Request) {
	var req bellRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	b, err := h.Authoring.AddBell(r.Context(), tenantOf(r), schedule.Bell{
		ScheduleID:    chi.URLParam(r, "scheduleID"),
		Day:           req.Day,
		Time:          req.Time,
		Name:          req.Name,
		Enabled:       enabled,
		BellType:      req.BellType,
		BreakDuration: req.BreakDuration,
		SoundID:       req.SoundID,
	})
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) GenerateDay(w http.ResponseWriter, r *http.Request) {
	var req schedule.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ScheduleID = chi.URLParam(r, "scheduleID")
	bells, err := h.Authoring.GenerateDay(r.Context(), tenantOf(r), req)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bells": bells})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) ExportSchedule(w http.ResponseWriter, r *http.Request) {
	set, ok := h.ownedSchedule(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteSchedule(&buf, *set); err != nil {
		writeServiceError(w, h.Log, fmt.Errorf("export schedule %s: %w", set.ID, err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(set.Name)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func exportFilename(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, name)
	if clean == "" {
		clean = "schedule"
	}
	return clean + ".xlsx"
}

func (h *Handler) UpdateBell(w http.ResponseWriter, r *http.Request) {
	var patch authoring.BellPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	b, err := h.Authoring.UpdateBell(r.Context(), tenantOf(r), chi.URLParam(r, "bellID"), patch)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) DeleteBell(w http.ResponseWriter, r *http.Request) {
	if err := h.Authoring.DeleteBell(r.Context(), tenantOf(r), chi.URLParam(r, "bellID")); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListSpecialDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.Store.ListSpecialDays(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if days == nil {
		days = []schedule.SpecialDay{}
	}
	writeJSON(w, http.StatusOK, days)
}

type specialDayRequest struct {
	Type               schedule.SpecialDayType `json:"type"`
	OverrideScheduleID string                  `json:"overrideScheduleId,omitempty"`
}

func (h *Handler) SetSpecialDay(w http.ResponseWriter, r *http.Request) {
	var req specialDayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sd, err := h.Authoring.SetSpecialDay(r.Context(), tenantOf(r), schedule.SpecialDay{
		Date:               chi.URLParam(r, "date"),
		Type:               req.Type,
		OverrideScheduleID: req.OverrideScheduleID,
	})
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sd)
}

func (h *Handler) DeleteSpecialDay(w http.ResponseWriter, r *http.Request) {
	if err := h.Authoring.DeleteSpecialDay(r.Context(), tenantOf(r), chi.URLParam(r, "date")); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type alarmRequest struct {
	AlertType string `json:"alertType"`
}

// ActivateAlarm starts the school's emergency alarm. The body is optional.
func (h *Handler) ActivateAlarm(w http.ResponseWriter, r *http.Request) {
	var req alarmRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body: "+err.Error())
		return
	}
	tenant := tenantOf(r)
	h.Dispatcher.ActivateAlarm(tenant, strings.TrimSpace(req.AlertType))
	a, _ := h.Dispatcher.Alarms().Get(tenant)
	h.recordAlarm(r, tenant, fmt.Sprintf("Emergency alarm started (%s)", a.AlertType))
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) DeactivateAlarm(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOf(r)
	h.Dispatcher.DeactivateAlarm(tenant)
	h.recordAlarm(r, tenant, "Emergency alarm stopped")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordAlarm(r *http.Request, tenant, msg string) {
	sess, _ := session.FromContext(r.Context())
	sess.Activity().Add(msg)
	err := h.Store.AppendActivity(r.Context(), storage.ActivityEntry{
		TenantID: tenant,
		At:       h.Clock.Now(),
		Actor:    sess.User,
		Message:  msg,
	})
	if err != nil {
		h.Log.Warn("activity append failed", logx.Tenant(tenant), logx.Err(err))
	}
}

func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeErrorFields(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid limit", map[string]string{"limit": "gt=0"})
			return
		}
		limit = min(n, maxActivityLimit)
	}
	entries, err := h.Store.RecentActivity(r.Context(), tenantOf(r), limit)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if entries == nil {
		entries = []storage.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---- school administration ----

// RenameSchool renames the caller's own school.
func (h *Handler) RenameSchool(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tenant := tenantOf(r)
	if err := h.Authoring.RenameSchool(r.Context(), tenant, req.Name); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	t, err := h.Store.GetTenant(r.Context(), tenant)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) ListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := h.Authoring.ListSchools(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, schools)
}

type createSchoolRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey,omitempty"`
}

// createSchoolResponse is the only place a device API key is ever returned.
type createSchoolResponse struct {
	School schedule.Tenant `json:"school"`
	APIKey string          `json:"apiKey"`
}

func (h *Handler) CreateSchool(w http.ResponseWriter, r *http.Request) {
	var req createSchoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.Authoring.CreateSchool(r.Context(), req.Name, req.APIKey)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSchoolResponse{School: t, APIKey: t.APIKey})
}

// DeleteSchool removes a school and everything it owns. A ringing alarm is
// stopped first so its listeners are not left sounding.
func (h *Handler) DeleteSchool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "schoolID")
	t, err := h.Store.GetTenant(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "school not found")
		return
	}
	if h.Dispatcher != nil {
		if h.Dispatcher.Alarms().Active(id) {
			h.Dispatcher.DeactivateAlarm(id)
		}
	}
	if err := h.Authoring.DeleteSchool(r.Context(), id); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
