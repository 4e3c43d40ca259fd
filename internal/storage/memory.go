package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"schoolbell/internal/schedule"
)

// Memory is a process-local Store. The zero value is not usable; call NewMemory.
type Memory struct {
	mu sync.RWMutex

	tenants   map[string]schedule.Tenant
	schedules map[string]schedule.ScheduleSet // Bells left nil
	bells     map[string]schedule.Bell
	special   map[string]map[string]schedule.SpecialDay // tenant -> date -> rule
	activity  []ActivityEntry
	nextSeq   int64

	// onChange runs after every successful write, under mu.
	onChange func() error
}

func NewMemory() *Memory {
	return &Memory{
		tenants:   map[string]schedule.Tenant{},
		schedules: map[string]schedule.ScheduleSet{},
		bells:     map[string]schedule.Bell{},
		special:   map[string]map[string]schedule.SpecialDay{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) changed() error {
	if m.onChange == nil {
		return nil
	}
	return m.onChange()
}

// ---- schedule.Reader ----

func (m *Memory) ListTenantIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetActiveScheduleID(ctx context.Context, tenantID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenants[tenantID].ActiveScheduleID, nil
}

func (m *Memory) GetSpecialDay(ctx context.Context, tenantID, date string) (*schedule.SpecialDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sd, ok := m.special[tenantID][date]
	if !ok {
		return nil, nil
	}
	return &sd, nil
}

func (m *Memory) ScheduleExists(ctx context.Context, scheduleID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.schedules[scheduleID]
	return ok, nil
}

func (m *Memory) GetBellsForSchedule(ctx context.Context, scheduleID string) ([]schedule.Bell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bellsLocked(scheduleID), nil
}

func (m *Memory) bellsLocked(scheduleID string) []schedule.Bell {
	var out []schedule.Bell
	for _, b := range m.bells {
		if b.ScheduleID == scheduleID {
			out = append(out, b)
		}
	}
	sortBells(out)
	return out
}

// ---- Reader ----

func (m *Memory) GetTenant(ctx context.Context, id string) (*schedule.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) GetTenantByAPIKey(ctx context.Context, apiKey string) (*schedule.Tenant, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.APIKey == apiKey {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetSchedule(ctx context.Context, id string) (*schedule.ScheduleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	s.Bells = m.bellsLocked(id)
	return &s, nil
}

func (m *Memory) ListSchedules(ctx context.Context, tenantID string) ([]schedule.ScheduleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schedule.ScheduleSet
	for _, s := range m.schedules {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetBell(ctx context.Context, id string) (*schedule.Bell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bells[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) ListSpecialDays(ctx context.Context, tenantID string) ([]schedule.SpecialDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schedule.SpecialDay, 0, len(m.special[tenantID]))
	for _, sd := range m.special[tenantID] {
		out = append(out, sd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *Memory) RecentActivity(ctx context.Context, tenantID string, limit int) ([]ActivityEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ActivityEntry
	for i := len(m.activity) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if m.activity[i].TenantID == tenantID {
			out = append(out, m.activity[i])
		}
	}
	return out, nil
}

// ---- Writer ----

func (m *Memory) CreateTenant(ctx context.Context, t schedule.Tenant) (schedule.Tenant, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	return t, m.changed()
}

func (m *Memory) RenameTenant(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Name = name
	m.tenants[id] = t
	return m.changed()
}

func (m *Memory) DeleteTenant(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return ErrNotFound
	}
	for sid, s := range m.schedules {
		if s.TenantID == id {
			m.deleteScheduleLocked(sid)
		}
	}
	delete(m.special, id)
	kept := m.activity[:0]
	for _, e := range m.activity {
		if e.TenantID != id {
			kept = append(kept, e)
		}
	}
	m.activity = kept
	delete(m.tenants, id)
	return m.changed()
}

func (m *Memory) SetActiveSchedule(ctx context.Context, tenantID, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	if scheduleID != "" {
		if _, ok := m.schedules[scheduleID]; !ok {
			return ErrNotFound
		}
	}
	t.ActiveScheduleID = scheduleID
	m.tenants[tenantID] = t
	return m.changed()
}

func (m *Memory) CreateSchedule(ctx context.Context, s schedule.ScheduleSet) (schedule.ScheduleSet, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[s.TenantID]; !ok {
		return schedule.ScheduleSet{}, ErrNotFound
	}
	bells := make([]schedule.Bell, 0, len(s.Bells))
	for _, b := range s.Bells {
		if b.ID == "" {
			b.ID = newID()
		}
		b.ScheduleID = s.ID
		m.bells[b.ID] = b
		bells = append(bells, b)
	}
	s.Bells = nil
	m.schedules[s.ID] = s
	s.Bells = bells
	return s, m.changed()
}

func (m *Memory) RenameSchedule(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ErrNotFound
	}
	s.Name = name
	m.schedules[id] = s
	return m.changed()
}

func (m *Memory) DeleteSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return ErrNotFound
	}
	m.deleteScheduleLocked(id)
	return m.changed()
}

func (m *Memory) deleteScheduleLocked(id string) {
	for bid, b := range m.bells {
		if b.ScheduleID == id {
			delete(m.bells, bid)
		}
	}
	for tid, t := range m.tenants {
		if t.ActiveScheduleID == id {
			t.ActiveScheduleID = ""
			m.tenants[tid] = t
		}
	}
	delete(m.schedules, id)
}

func (m *Memory) CreateBell(ctx context.Context, b schedule.Bell) (schedule.Bell, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[b.ScheduleID]; !ok {
		return schedule.Bell{}, ErrNotFound
	}
	m.bells[b.ID] = b
	return b, m.changed()
}

func (m *Memory) UpdateBell(ctx context.Context, b schedule.Bell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.bells[b.ID]
	if !ok {
		return ErrNotFound
	}
	b.ScheduleID = old.ScheduleID
	m.bells[b.ID] = b
	return m.changed()
}

func (m *Memory) DeleteBell(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bells[id]; !ok {
		return ErrNotFound
	}
	delete(m.bells, id)
	return m.changed()
}

func (m *Memory) DeleteBellsForDay(ctx context.Context, scheduleID, day string) ([]schedule.Bell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []schedule.Bell
	for id, b := range m.bells {
		if b.ScheduleID == scheduleID && b.Day == day {
			removed = append(removed, b)
			delete(m.bells, id)
		}
	}
	sortBells(removed)
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, m.changed()
}

func (m *Memory) UpsertSpecialDay(ctx context.Context, sd schedule.SpecialDay) (schedule.SpecialDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[sd.TenantID]; !ok {
		return schedule.SpecialDay{}, ErrNotFound
	}
	days := m.special[sd.TenantID]
	if days == nil {
		days = map[string]schedule.SpecialDay{}
		m.special[sd.TenantID] = days
	}
	if prev, ok := days[sd.Date]; ok {
		sd.ID = prev.ID
	} else if sd.ID == "" {
		sd.ID = newID()
	}
	days[sd.Date] = sd
	return sd, m.changed()
}

func (m *Memory) DeleteSpecialDay(ctx context.Context, tenantID, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.special[tenantID][date]; !ok {
		return ErrNotFound
	}
	delete(m.special[tenantID], date)
	return m.changed()
}

func (m *Memory) AppendActivity(ctx context.Context, e ActivityEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.appendActivity(e)
	return nil
}

func (m *Memory) appendActivity(e ActivityEntry) ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	e.ID = m.nextSeq
	m.activity = append(m.activity, e)
	return e
}

func sortBells(bs []schedule.Bell) {
	sort.SliceStable(bs, func(i, j int) bool {
		di, dj := schedule.WeekdayIndex(bs[i].Day), schedule.WeekdayIndex(bs[j].Day)
		if di != dj {
			return di < dj
		}
		if bs[i].Time != bs[j].Time {
			return bs[i].Time < bs[j].Time
		}
		return bs[i].ID < bs[j].ID
	})
}
