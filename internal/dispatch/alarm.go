package dispatch

import (
	"sort"
	"sync"
	"time"
)

const DefaultAlertType = "fire"

// Alarm is the emergency state of one tenant.
type Alarm struct {
	Tenant    string    `json:"tenant"`
	AlertType string    `json:"alertType"`
	Since     time.Time `json:"since"`
}

// AlarmState tracks which tenants have an alarm on. It lives for the process and
// is never persisted. The zero value is not usable; call NewAlarmState.
type AlarmState struct {
	mu     sync.RWMutex
	active map[string]Alarm
}

func NewAlarmState() *AlarmState {
	return &AlarmState{active: map[string]Alarm{}}
}

// Set turns the tenant's alarm on. It reports whether the state changed; a repeat
// Set keeps the original Since.
func (s *AlarmState) Set(tenant, alertType string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.active[tenant]; ok {
		if alertType != "" && alertType != cur.AlertType {
			cur.AlertType = alertType
			s.active[tenant] = cur
		}
		return false
	}
	if alertType == "" {
		alertType = DefaultAlertType
	}
	s.active[tenant] = Alarm{Tenant: tenant, AlertType: alertType, Since: at}
	return true
}

// Unset turns the tenant's alarm off and reports whether it was on.
func (s *AlarmState) Unset(tenant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[tenant]
	delete(s.active, tenant)
	return ok
}

func (s *AlarmState) Get(tenant string) (Alarm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[tenant]
	return a, ok
}

func (s *AlarmState) Active(tenant string) bool {
	_, ok := s.Get(tenant)
	return ok
}

// Snapshot lists active alarms ordered by tenant.
func (s *AlarmState) Snapshot() []Alarm {
	s.mu.RLock()
	out := make([]Alarm, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

// Clear drops every alarm. Called on shutdown.
func (s *AlarmState) Clear() {
	s.mu.Lock()
	s.active = map[string]Alarm{}
	s.mu.Unlock()
}
