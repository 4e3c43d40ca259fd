package schedule

import (
	"context"
	"testing"
)

func TestMatchBells(t *testing.T) {
	t.Parallel()
	r := newMemReader()
	r.schedules["s1"] = []Bell{
		{ID: "1", Day: "Monday", Time: "08:30", Name: "Lesson 1 start", Enabled: true, BellType: BellLesson},
		{ID: "2", Day: "Monday", Time: "08:30", Name: "Assembly", Enabled: true, BellType: BellLesson},
		{ID: "3", Day: "Monday", Time: "08:30", Name: "Muted", Enabled: false, BellType: BellLesson},
		{ID: "4", Day: "Tuesday", Time: "08:30", Name: "Other day", Enabled: true, BellType: BellLesson},
		{ID: "5", Day: "Monday", Time: "09:15", Name: "Lesson 1 end", Enabled: true, BellType: BellBreak},
	}
	m := NewMatcher(r)

	got, err := m.MatchBells(context.Background(), "s1", "Monday", "08:30")
	if err != nil {
		t.Fatalf("MatchBells error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matched %d bells, want 2: %+v", len(got), got)
	}
	ids := map[string]bool{}
	for _, b := range got {
		if !b.Enabled {
			t.Fatalf("disabled bell matched: %+v", b)
		}
		ids[b.ID] = true
	}
	if !ids["1"] || !ids["2"] {
		t.Fatalf("duplicate-time bells not both matched: %+v", got)
	}
}

func TestMatchBellsNoSchedule(t *testing.T) {
	t.Parallel()
	m := NewMatcher(newMemReader())
	got, err := m.MatchBells(context.Background(), "", "Monday", "08:30")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; want no bells", got, err)
	}
	got, err = m.MatchBells(context.Background(), "missing", "Monday", "08:30")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; want no bells for missing schedule", got, err)
	}
}

func TestMatchNeverReturnsDisabled(t *testing.T) {
	t.Parallel()
	var bells []Bell
	for _, d := range Weekdays {
		for _, tm := range []string{"08:00", "12:00"} {
			bells = append(bells, Bell{Day: d, Time: tm, Enabled: false})
		}
	}
	for _, d := range Weekdays {
		if got := FilterDue(bells, d, "08:00"); len(got) != 0 {
			t.Fatalf("%s: disabled bells matched: %+v", d, got)
		}
	}
}

func TestDayPlanSortsByTime(t *testing.T) {
	t.Parallel()
	bells := []Bell{
		{ID: "c", Day: "Friday", Time: "10:10", Enabled: true},
		{ID: "a", Day: "Friday", Time: "08:30", Enabled: true},
		{ID: "x", Day: "Friday", Time: "09:00", Enabled: false},
		{ID: "b", Day: "Friday", Time: "09:15", Enabled: true},
		{ID: "m", Day: "Monday", Time: "07:00", Enabled: true},
	}
	got := DayPlan(bells, "Friday")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("DayPlan len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("DayPlan[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}
