package schedule

import (
	"context"
	"sort"
)

// memReader is a map-backed Reader for tests.
type memReader struct {
	active    map[string]string
	special   map[string]SpecialDay // tenant|date
	schedules map[string][]Bell

	err error // returned by every call when set
}

func newMemReader() *memReader {
	return &memReader{
		active:    map[string]string{},
		special:   map[string]SpecialDay{},
		schedules: map[string][]Bell{},
	}
}

func (r *memReader) ListTenantIDs(ctx context.Context) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memReader) GetActiveScheduleID(ctx context.Context, tenantID string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.active[tenantID], nil
}

func (r *memReader) GetSpecialDay(ctx context.Context, tenantID, date string) (*SpecialDay, error) {
	if r.err != nil {
		return nil, r.err
	}
	sd, ok := r.special[tenantID+"|"+date]
	if !ok {
		return nil, nil
	}
	return &sd, nil
}

func (r *memReader) ScheduleExists(ctx context.Context, scheduleID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.schedules[scheduleID]
	return ok, nil
}

func (r *memReader) GetBellsForSchedule(ctx context.Context, scheduleID string) ([]Bell, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.schedules[scheduleID], nil
}
