package authoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbell/internal/schedule"
	"schoolbell/internal/storage"
)

func plan(scheduleID string, mode schedule.Mode) schedule.GenerateRequest {
	return schedule.GenerateRequest{
		StartTime:  "08:30",
		Lessons:    []schedule.LessonConfig{{LessonDuration: 45, BreakDuration: 10}, {LessonDuration: 45, BreakDuration: 10}, {LessonDuration: 45}},
		Day:        "Monday",
		ScheduleID: scheduleID,
		Mode:       mode,
	}
}

func times(bells []schedule.Bell) []string {
	out := make([]string, len(bells))
	for i, b := range bells {
		out[i] = b.Time
	}
	return out
}

func TestGenerateDay_Append(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	existing := lesson("Monday", "07:00", "Assembly")
	existing.ScheduleID = f.set.ID
	_, err := f.svc.AddBell(ctx, f.tenant.ID, existing)
	require.NoError(t, err)

	created, err := f.svc.GenerateDay(ctx, f.tenant.ID, plan(f.set.ID, schedule.ModeAppend))
	require.NoError(t, err)
	assert.Equal(t, []string{"08:30", "09:15", "09:25", "10:10", "10:20", "11:05"}, times(created))
	for _, b := range created {
		assert.NotEmpty(t, b.ID)
	}

	all, err := f.store.GetBellsForSchedule(ctx, f.set.ID)
	require.NoError(t, err)
	assert.Len(t, all, 7)
}

func TestGenerateDay_OverwriteReplacesOnlyThatDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, b := range []schedule.Bell{lesson("Monday", "07:00", "Old"), lesson("Tuesday", "07:00", "Keep")} {
		b.ScheduleID = f.set.ID
		_, err := f.svc.AddBell(ctx, f.tenant.ID, b)
		require.NoError(t, err)
	}

	_, err := f.svc.GenerateDay(ctx, f.tenant.ID, plan(f.set.ID, schedule.ModeOverwrite))
	require.NoError(t, err)

	all, err := f.store.GetBellsForSchedule(ctx, f.set.ID)
	require.NoError(t, err)
	monday := schedule.DayPlan(all, "Monday")
	assert.Equal(t, []string{"08:30", "09:15", "09:25", "10:10", "10:20", "11:05"}, times(monday))
	assert.Len(t, schedule.DayPlan(all, "Tuesday"), 1)
}

func TestGenerateDay_FailureRollsBackAppend(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s storage.Store) storage.Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	ctx := context.Background()

	flaky.failOn = 4
	_, err := f.svc.GenerateDay(ctx, f.tenant.ID, plan(f.set.ID, schedule.ModeAppend))
	require.ErrorIs(t, err, errInjected)

	all, err := f.store.GetBellsForSchedule(ctx, f.set.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGenerateDay_FailureRestoresOverwrittenDay(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s storage.Store) storage.Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	ctx := context.Background()

	old := lesson("Monday", "07:00", "Old")
	old.ScheduleID = f.set.ID
	old, err := f.svc.AddBell(ctx, f.tenant.ID, old)
	require.NoError(t, err)

	flaky.creates = 0
	flaky.failOn = 3
	_, err = f.svc.GenerateDay(ctx, f.tenant.ID, plan(f.set.ID, schedule.ModeOverwrite))
	require.ErrorIs(t, err, errInjected)

	all, err := f.store.GetBellsForSchedule(ctx, f.set.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, old, all[0])
}

func TestGenerateDay_InvalidInputWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := plan(f.set.ID, schedule.ModeAppend)
	req.Lessons[1].BreakDuration = -5
	_, err := f.svc.GenerateDay(ctx, f.tenant.ID, req)
	var ie *schedule.InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Index)

	all, err := f.store.GetBellsForSchedule(ctx, f.set.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGenerateDay_ForeignSchedule(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.GenerateDay(context.Background(), f.other.ID, plan(f.set.ID, schedule.ModeAppend))
	assert.ErrorIs(t, err, ErrForeignSchedule)
}
