package schedule

import (
	"context"
	"fmt"
	"sort"
)

type Matcher struct {
	r Reader
}

func NewMatcher(r Reader) *Matcher { return &Matcher{r: r} }

// MatchBells returns every enabled bell of scheduleID at (weekday, timeOfDay).
// An empty scheduleID matches nothing.
func (m *Matcher) MatchBells(ctx context.Context, scheduleID, weekday, timeOfDay string) ([]Bell, error) {
	if scheduleID == "" {
		return nil, nil
	}
	bells, err := m.r.GetBellsForSchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("bells for schedule %s: %w", scheduleID, err)
	}
	return FilterDue(bells, weekday, timeOfDay), nil
}

// FilterDue keeps enabled bells on weekday at timeOfDay, in input order.
func FilterDue(bells []Bell, weekday, timeOfDay string) []Bell {
	var out []Bell
	for _, b := range bells {
		if !b.Enabled || b.Day != weekday || b.Time != timeOfDay {
			continue
		}
		out = append(out, b)
	}
	return out
}

// DayPlan returns the enabled bells of one weekday sorted by time. Ties keep input order.
func DayPlan(bells []Bell, weekday string) []Bell {
	out := make([]Bell, 0, len(bells))
	for _, b := range bells {
		if b.Enabled && b.Day == weekday {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
