package tick

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// Monday 2024-09-02 08:30:17 UTC.
var monday0830 = time.Date(2024, 9, 2, 8, 30, 17, 0, time.UTC)

type tenantData struct {
	active  string
	special map[string]schedule.SpecialDay
	fail    error
	panics  bool
	block   chan struct{}
}

type fakeReader struct {
	mu        sync.Mutex
	tenants   map[string]*tenantData
	schedules map[string][]schedule.Bell
	listErr   error
}

func newFakeReader() *fakeReader {
	return &fakeReader{tenants: map[string]*tenantData{}, schedules: map[string][]schedule.Bell{}}
}

func (r *fakeReader) tenant(id string) *tenantData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenants[id]
}

func (r *fakeReader) ListTenantIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeReader) GetActiveScheduleID(ctx context.Context, tenantID string) (string, error) {
	td := r.tenant(tenantID)
	if td == nil {
		return "", nil
	}
	return td.active, nil
}

func (r *fakeReader) GetSpecialDay(ctx context.Context, tenantID, date string) (*schedule.SpecialDay, error) {
	td := r.tenant(tenantID)
	if td == nil {
		return nil, nil
	}
	if td.panics {
		panic("corrupt row")
	}
	if td.block != nil {
		<-td.block
	}
	if td.fail != nil {
		return nil, td.fail
	}
	if sd, ok := td.special[date]; ok {
		return &sd, nil
	}
	return nil, nil
}

func (r *fakeReader) ScheduleExists(ctx context.Context, scheduleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.schedules[scheduleID]
	return ok, nil
}

func (r *fakeReader) GetBellsForSchedule(ctx context.Context, scheduleID string) ([]schedule.Bell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedules[scheduleID], nil
}

type ring struct{ tenant, name, time string }

type recorder struct {
	mu    sync.Mutex
	rings []ring
}

func (r *recorder) NotifyBellRing(tenant, bellName, bellTime string) {
	r.mu.Lock()
	r.rings = append(r.rings, ring{tenant, bellName, bellTime})
	r.mu.Unlock()
}

func (r *recorder) byTenant() map[string][]ring {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string][]ring{}
	for _, x := range r.rings {
		out[x.tenant] = append(out[x.tenant], x)
	}
	return out
}

func mondayBells(scheduleID string) []schedule.Bell {
	return []schedule.Bell{
		{ScheduleID: scheduleID, Day: "Monday", Time: "08:30", Name: "Lesson 1 start", Enabled: true},
		{ScheduleID: scheduleID, Day: "Monday", Time: "08:30", Name: "Announcement", Enabled: true},
		{ScheduleID: scheduleID, Day: "Monday", Time: "08:30", Name: "Muted", Enabled: false},
		{ScheduleID: scheduleID, Day: "Monday", Time: "09:15", Name: "Lesson 1 end", Enabled: true},
	}
}

func newService(t *testing.T, cfg Config, r *fakeReader, rec *recorder) *Service {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return New(cfg, r, rec, schedule.ClockFunc(func() time.Time { return monday0830 }), logx.Nop())
}

func TestSweepDispatchesDueBells(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["a-main"] = mondayBells("a-main")
	r.schedules["b-main"] = mondayBells("b-main")
	r.tenants["school-a"] = &tenantData{active: "a-main"}
	r.tenants["school-b"] = &tenantData{active: "b-main"}
	r.tenants["school-c"] = &tenantData{}
	rec := &recorder{}
	s := newService(t, Config{Workers: 2}, r, rec)

	rep := s.Sweep(context.Background(), monday0830)
	if rep.Skipped || rep.Err != nil || len(rep.Failures) != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Minute != "2024-09-02 08:30" || rep.Tenants != 3 || rep.Rung != 4 {
		t.Fatalf("report = %+v", rep)
	}
	got := rec.byTenant()
	if len(got["school-a"]) != 2 || len(got["school-b"]) != 2 || len(got["school-c"]) != 0 {
		t.Fatalf("rings = %+v", got)
	}
	for _, x := range got["school-a"] {
		if x.name == "Muted" || x.time != "08:30" {
			t.Fatalf("wrong bell rang: %+v", x)
		}
	}
}

func TestSweepIsolatesTenantFailures(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["main"] = mondayBells("main")
	r.tenants["a-broken"] = &tenantData{active: "main", fail: errors.New("row decode")}
	r.tenants["b-healthy"] = &tenantData{active: "main"}
	r.tenants["c-panics"] = &tenantData{active: "main", panics: true}
	rec := &recorder{}
	s := newService(t, Config{Workers: 1}, r, rec)

	rep := s.Sweep(context.Background(), monday0830)
	if len(rec.byTenant()["b-healthy"]) != 2 {
		t.Fatalf("healthy tenant did not ring: %+v", rec.byTenant())
	}
	if len(rep.Failures) != 2 {
		t.Fatalf("failures = %v, want 2", rep.Failures)
	}
	if rep.Failures[0].TenantID != "a-broken" || rep.Failures[1].TenantID != "c-panics" {
		t.Fatalf("failures = %v", rep.Failures)
	}
	if s.Snapshot().Totals.Failures != 2 {
		t.Fatalf("totals = %+v", s.Snapshot().Totals)
	}
}

func TestSweepTimesOutSlowTenant(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["main"] = mondayBells("main")
	block := make(chan struct{})
	defer close(block)
	r.tenants["slow"] = &tenantData{active: "main", block: block}
	r.tenants["fast"] = &tenantData{active: "main"}
	rec := &recorder{}
	s := newService(t, Config{Workers: 2, TenantTimeout: 50 * time.Millisecond}, r, rec)

	start := time.Now()
	rep := s.Sweep(context.Background(), monday0830)
	if time.Since(start) > 5*time.Second {
		t.Fatalf("sweep stalled for %v", time.Since(start))
	}
	if len(rep.Failures) != 1 || !errors.Is(rep.Failures[0], context.DeadlineExceeded) {
		t.Fatalf("failures = %v, want one deadline exceeded", rep.Failures)
	}
	got := rec.byTenant()
	if len(got["fast"]) != 2 || len(got["slow"]) != 0 {
		t.Fatalf("rings = %+v", got)
	}
}

func TestSweepOncePerMinute(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["main"] = mondayBells("main")
	r.tenants["t"] = &tenantData{active: "main"}
	rec := &recorder{}
	s := newService(t, Config{}, r, rec)

	first := s.Sweep(context.Background(), monday0830)
	second := s.Sweep(context.Background(), monday0830.Add(20*time.Second))
	if first.Skipped || !second.Skipped {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if n := len(rec.byTenant()["t"]); n != 2 {
		t.Fatalf("rang %d times, want 2", n)
	}

	next := s.Sweep(context.Background(), monday0830.Add(45*time.Minute))
	if next.Skipped || next.Minute != "2024-09-02 09:15" || next.Rung != 1 {
		t.Fatalf("next minute report = %+v", next)
	}
	if tot := s.Snapshot().Totals; tot.Sweeps != 2 || tot.Skipped != 1 || tot.Rung != 3 {
		t.Fatalf("totals = %+v", tot)
	}
}

func TestSweepConcurrentSameMinute(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["main"] = mondayBells("main")
	r.tenants["t"] = &tenantData{active: "main"}
	rec := &recorder{}
	s := newService(t, Config{}, r, rec)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sweep(context.Background(), monday0830)
		}()
	}
	wg.Wait()
	if n := len(rec.byTenant()["t"]); n != 2 {
		t.Fatalf("rang %d times, want 2", n)
	}
}

func TestSweepCalendarRules(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["main"] = mondayBells("main")
	r.schedules["short"] = []schedule.Bell{{Day: "Monday", Time: "08:30", Name: "Short day start", Enabled: true}}
	r.tenants["holiday"] = &tenantData{active: "main", special: map[string]schedule.SpecialDay{
		"2024-09-02": {Date: "2024-09-02", Type: schedule.DayHoliday},
	}}
	r.tenants["override"] = &tenantData{active: "main", special: map[string]schedule.SpecialDay{
		"2024-09-02": {Date: "2024-09-02", Type: schedule.DayOverride, OverrideScheduleID: "short"},
	}}
	r.tenants["dangling"] = &tenantData{active: "deleted"}
	rec := &recorder{}
	s := newService(t, Config{}, r, rec)

	rep := s.Sweep(context.Background(), monday0830)
	if len(rep.Failures) != 0 {
		t.Fatalf("dangling reference must not fail the tenant: %v", rep.Failures)
	}
	got := rec.byTenant()
	if len(got["holiday"]) != 0 || len(got["dangling"]) != 0 {
		t.Fatalf("rings = %+v", got)
	}
	if len(got["override"]) != 1 || got["override"][0].name != "Short day start" {
		t.Fatalf("override rings = %+v", got["override"])
	}
}

func TestSweepUsesConfiguredTimezone(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["main"] = []schedule.Bell{{Day: "Monday", Time: "14:30", Name: "Afternoon", Enabled: true}}
	r.tenants["t"] = &tenantData{active: "main"}
	rec := &recorder{}
	s := newService(t, Config{Timezone: "Asia/Almaty"}, r, rec)

	loc, err := time.LoadLocation("Asia/Almaty")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	at := time.Date(2024, 9, 2, 14, 30, 0, 0, loc).UTC()
	rep := s.Sweep(context.Background(), at)
	if rep.Minute != "2024-09-02 14:30" || rep.Rung != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSweepListFailure(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.listErr = errors.New("connection refused")
	s := newService(t, Config{}, r, &recorder{})
	rep := s.Sweep(context.Background(), monday0830)
	if rep.Err == nil || rep.Tenants != 0 {
		t.Fatalf("report = %+v", rep)
	}

	// The failed listing must not use up the minute.
	r.mu.Lock()
	r.listErr = nil
	r.schedules["main"] = mondayBells("main")
	r.tenants["school-a"] = &tenantData{active: "main"}
	r.mu.Unlock()
	rep = s.Sweep(context.Background(), monday0830.Add(20*time.Second))
	if rep.Skipped || rep.Err != nil || rep.Rung != 2 {
		t.Fatalf("retry report = %+v", rep)
	}
}

type panickyNotifier struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *panickyNotifier) NotifyBellRing(tenant, bellName, bellTime string) {
	p.mu.Lock()
	p.calls[tenant]++
	p.mu.Unlock()
	if tenant == "a-bad-sink" {
		panic("sink exploded")
	}
}

func TestSweepSurvivesPanickingNotifier(t *testing.T) {
	t.Parallel()
	r := newFakeReader()
	r.schedules["main"] = mondayBells("main")
	r.tenants["a-bad-sink"] = &tenantData{active: "main"}
	r.tenants["b-fine"] = &tenantData{active: "main"}
	n := &panickyNotifier{calls: map[string]int{}}
	s := New(Config{Timezone: "UTC", Workers: 1}, r, n,
		schedule.ClockFunc(func() time.Time { return monday0830 }), logx.Nop())

	rep := s.Sweep(context.Background(), monday0830)
	if len(rep.Failures) != 1 || rep.Failures[0].TenantID != "a-bad-sink" {
		t.Fatalf("failures = %v", rep.Failures)
	}
	if rep.Rung != 2 {
		t.Fatalf("rung = %d, want 2 from the healthy tenant", rep.Rung)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls["b-fine"] != 2 || n.calls["a-bad-sink"] != 1 {
		t.Fatalf("calls = %v", n.calls)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := newService(t, Config{Enabled: true}, newFakeReader(), &recorder{})
	s.Start(context.Background())
	snap := s.Snapshot()
	if !snap.Running || snap.Next.IsZero() || snap.Next.Second() != 0 {
		t.Fatalf("snapshot after start = %+v", snap)
	}
	if snap.State != StateIdle {
		t.Fatalf("state = %s, want idle", snap.State)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Snapshot().Running {
		t.Fatal("still running after Stop")
	}
	// Stop twice is harmless.
	s.Stop(ctx)
}
