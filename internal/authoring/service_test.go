package authoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbell/internal/schedule"
	"schoolbell/internal/session"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
)

var fixedNow = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

// flakyStore fails the CreateBell call numbered failOn (1-based).
type flakyStore struct {
	storage.Store
	creates int
	failOn  int
}

var errInjected = errors.New("injected write failure")

func (f *flakyStore) CreateBell(ctx context.Context, b schedule.Bell) (schedule.Bell, error) {
	f.creates++
	if f.failOn > 0 && f.creates == f.failOn {
		return schedule.Bell{}, errInjected
	}
	return f.Store.CreateBell(ctx, b)
}

type fixture struct {
	store  storage.Store
	svc    *Service
	tenant schedule.Tenant
	other  schedule.Tenant
	set    schedule.ScheduleSet
}

func newFixture(t *testing.T, wrap func(storage.Store) storage.Store) fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	var st storage.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}
	tn, err := mem.CreateTenant(ctx, schedule.Tenant{Name: "School 1"})
	require.NoError(t, err)
	other, err := mem.CreateTenant(ctx, schedule.Tenant{Name: "School 2"})
	require.NoError(t, err)

	svc := New(st, schedule.ClockFunc(func() time.Time { return fixedNow }), logx.Nop())
	set, err := svc.CreateSchedule(ctx, tn.ID, "Main")
	require.NoError(t, err)
	return fixture{store: st, svc: svc, tenant: tn, other: other, set: set}
}

func lesson(day, at, name string) schedule.Bell {
	return schedule.Bell{Day: day, Time: at, Name: name, Enabled: true, BellType: schedule.BellLesson}
}

func TestSetActiveSchedule_RejectsForeignSchedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.svc.SetActiveSchedule(ctx, f.other.ID, f.set.ID)
	assert.ErrorIs(t, err, ErrForeignSchedule)

	err = f.svc.SetActiveSchedule(ctx, f.tenant.ID, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.svc.SetActiveSchedule(ctx, f.tenant.ID, f.set.ID))
	id, err := f.store.GetActiveScheduleID(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, f.set.ID, id)
}

func TestAddBell_Validates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b := lesson("Monday", "8:30", "")
	b.ScheduleID = f.set.ID
	_, err := f.svc.AddBell(ctx, f.tenant.ID, b)
	var fe schedule.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "hhmm", fe["Time"])
	assert.Equal(t, "required", fe["Name"])

	b = lesson("Funday", "08:30", "x")
	b.ScheduleID = f.set.ID
	_, err = f.svc.AddBell(ctx, f.tenant.ID, b)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "weekday", fe["Day"])

	b = lesson("Monday", "08:30", "Lesson 1 start")
	b.ScheduleID = f.set.ID
	got, err := f.svc.AddBell(ctx, f.tenant.ID, b)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, schedule.DefaultSoundID, got.SoundID)
}

func TestAddBell_ForeignSchedule(t *testing.T) {
	f := newFixture(t, nil)
	b := lesson("Monday", "08:30", "x")
	b.ScheduleID = f.set.ID
	_, err := f.svc.AddBell(context.Background(), f.other.ID, b)
	assert.ErrorIs(t, err, ErrForeignSchedule)
}

func TestUpdateBell_PartialPatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b := lesson("Monday", "08:30", "Start")
	b.ScheduleID = f.set.ID
	b, err := f.svc.AddBell(ctx, f.tenant.ID, b)
	require.NoError(t, err)

	off := false
	at := "09:00"
	got, err := f.svc.UpdateBell(ctx, f.tenant.ID, b.ID, BellPatch{Enabled: &off, Time: &at})
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "09:00", got.Time)
	assert.Equal(t, "Start", got.Name)

	bad := "25:00"
	_, err = f.svc.UpdateBell(ctx, f.tenant.ID, b.ID, BellPatch{Time: &bad})
	assert.Error(t, err)

	stored, err := f.store.GetBell(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:00", stored.Time)

	_, err = f.svc.UpdateBell(ctx, f.other.ID, b.ID, BellPatch{Enabled: &off})
	assert.ErrorIs(t, err, ErrForeignSchedule)
}

func TestDeleteBell(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b := lesson("Monday", "08:30", "Start")
	b.ScheduleID = f.set.ID
	b, err := f.svc.AddBell(ctx, f.tenant.ID, b)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteBell(ctx, f.tenant.ID, b.ID))
	assert.ErrorIs(t, f.svc.DeleteBell(ctx, f.tenant.ID, b.ID), storage.ErrNotFound)
}

func TestSetSpecialDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sd, err := f.svc.SetSpecialDay(ctx, f.tenant.ID, schedule.SpecialDay{
		Date: "2025-01-01", Type: schedule.DayHoliday, OverrideScheduleID: f.set.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, sd.OverrideScheduleID)

	_, err = f.svc.SetSpecialDay(ctx, f.tenant.ID, schedule.SpecialDay{Date: "2025-01-02", Type: schedule.DayOverride})
	assert.Error(t, err)

	otherSet, err := f.svc.CreateSchedule(ctx, f.other.ID, "Theirs")
	require.NoError(t, err)
	_, err = f.svc.SetSpecialDay(ctx, f.tenant.ID, schedule.SpecialDay{
		Date: "2025-01-02", Type: schedule.DayOverride, OverrideScheduleID: otherSet.ID,
	})
	assert.ErrorIs(t, err, ErrForeignSchedule)

	sd, err = f.svc.SetSpecialDay(ctx, f.tenant.ID, schedule.SpecialDay{
		Date: "2025-01-01", Type: schedule.DayOverride, OverrideScheduleID: f.set.ID,
	})
	require.NoError(t, err)
	days, err := f.store.ListSpecialDays(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, schedule.DayOverride, days[0].Type)
	assert.Equal(t, sd.ID, days[0].ID)

	_, err = f.svc.SetSpecialDay(ctx, f.tenant.ID, schedule.SpecialDay{Date: "2025-13-01", Type: schedule.DayHoliday})
	assert.Error(t, err)
}

func TestDeleteSpecialDay_Missing(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.DeleteSpecialDay(context.Background(), f.tenant.ID, "2025-01-01")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSchedule_LeavesDanglingOverride(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.SetActiveSchedule(ctx, f.tenant.ID, f.set.ID))
	_, err := f.svc.SetSpecialDay(ctx, f.tenant.ID, schedule.SpecialDay{
		Date: "2025-01-06", Type: schedule.DayOverride, OverrideScheduleID: f.set.ID,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSchedule(ctx, f.tenant.ID, f.set.ID))

	res, err := schedule.NewResolver(f.store, logx.Nop()).ResolveEffectiveSchedule(ctx, f.tenant.ID, "2025-01-06")
	require.NoError(t, err)
	assert.True(t, res.Dangling)
	assert.Empty(t, res.ScheduleID)
}

func TestActivityRecorded(t *testing.T) {
	f := newFixture(t, nil)
	sess := session.New(f.tenant.ID, "admin")
	ctx := session.NewContext(context.Background(), sess)

	require.NoError(t, f.svc.SetActiveSchedule(ctx, f.tenant.ID, f.set.ID))

	entries, err := f.store.RecentActivity(context.Background(), f.tenant.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, `Activated schedule "Main"`, entries[0].Message)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Equal(t, `Created schedule "Main"`, entries[1].Message)

	require.Equal(t, 1, sess.Activity().Len())
	assert.Equal(t, `Activated schedule "Main"`, sess.Activity().Entries()[0].Message)
}
