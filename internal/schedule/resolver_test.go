package schedule

import (
	"context"
	"errors"
	"testing"

	logx "schoolbell/pkg/logx"
)

func TestResolveEffectiveSchedule(t *testing.T) {
	t.Parallel()
	r := newMemReader()
	r.schedules["normal"] = nil
	r.schedules["short"] = nil
	r.active["school-a"] = "normal"
	r.active["school-b"] = ""
	r.active["school-c"] = "removed"
	r.special["school-a|2024-12-31"] = SpecialDay{TenantID: "school-a", Date: "2024-12-31", Type: DayHoliday}
	r.special["school-a|2024-09-02"] = SpecialDay{TenantID: "school-a", Date: "2024-09-02", Type: DayOverride, OverrideScheduleID: "short"}
	r.special["school-b|2024-09-02"] = SpecialDay{TenantID: "school-b", Date: "2024-09-02", Type: DayOverride, OverrideScheduleID: "short"}
	r.special["school-a|2024-09-03"] = SpecialDay{TenantID: "school-a", Date: "2024-09-03", Type: DayOverride, OverrideScheduleID: "gone"}

	res := NewResolver(r, logx.Nop())
	tests := []struct {
		name     string
		tenant   string
		date     string
		want     string
		source   Source
		dangling bool
	}{
		{name: "normal day uses active", tenant: "school-a", date: "2024-09-04", want: "normal", source: SourceActive},
		{name: "holiday wins over active", tenant: "school-a", date: "2024-12-31", want: "", source: SourceHoliday},
		{name: "override replaces active", tenant: "school-a", date: "2024-09-02", want: "short", source: SourceOverride},
		{name: "override without active", tenant: "school-b", date: "2024-09-02", want: "short", source: SourceOverride},
		{name: "no active schedule", tenant: "school-b", date: "2024-09-04", want: "", source: SourceNone},
		{name: "unknown tenant", tenant: "nobody", date: "2024-09-04", want: "", source: SourceNone},
		{name: "dangling override", tenant: "school-a", date: "2024-09-03", want: "", source: SourceOverride, dangling: true},
		{name: "dangling active", tenant: "school-c", date: "2024-09-04", want: "", source: SourceActive, dangling: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := res.ResolveEffectiveSchedule(context.Background(), tt.tenant, tt.date)
			if err != nil {
				t.Fatalf("ResolveEffectiveSchedule error: %v", err)
			}
			if got.ScheduleID != tt.want {
				t.Fatalf("ScheduleID = %q, want %q", got.ScheduleID, tt.want)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if got.Dangling != tt.dangling {
				t.Fatalf("Dangling = %v, want %v", got.Dangling, tt.dangling)
			}
		})
	}
}

func TestResolveHolidayIgnoresEveryActiveSchedule(t *testing.T) {
	t.Parallel()
	for _, active := range []string{"", "a", "b", "missing"} {
		r := newMemReader()
		r.schedules["a"] = nil
		r.schedules["b"] = nil
		r.active["t"] = active
		r.special["t|2025-01-01"] = SpecialDay{TenantID: "t", Date: "2025-01-01", Type: DayHoliday}
		got, err := NewResolver(r, logx.Nop()).ResolveEffectiveSchedule(context.Background(), "t", "2025-01-01")
		if err != nil {
			t.Fatalf("error: %v", err)
		}
		if got.ScheduleID != "" || got.Source != SourceHoliday {
			t.Fatalf("active=%q: got %+v, want holiday with no schedule", active, got)
		}
	}
}

func TestResolveReaderError(t *testing.T) {
	t.Parallel()
	r := newMemReader()
	boom := errors.New("db down")
	r.err = boom
	_, err := NewResolver(r, logx.Nop()).ResolveEffectiveSchedule(context.Background(), "t", "2025-01-01")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
