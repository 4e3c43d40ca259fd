package tick

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// Sweep evaluates every tenant for the minute containing now and dispatches the
// bells that are due. A minute is swept at most once; a repeat call for the
// same minute returns a report with Skipped set.
//
// Tenants come from one snapshot taken at the start. A failing, panicking or
// slow tenant is recorded in the report and does not affect the others.
func (s *Service) Sweep(ctx context.Context, now time.Time) SweepReport {
	loc, workers, timeout := s.settings()
	m := schedule.Normalize(now.In(loc))
	rep := SweepReport{Minute: m.Key(), Started: time.Now()}

	if !s.claim(rep.Minute) {
		rep.Skipped = true
		s.log.Debug("minute already swept; skipping", logx.String("minute", rep.Minute))
		s.record(rep)
		return rep
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	tenants, err := s.reader.ListTenantIDs(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("list tenants: %w", err)
		// Nothing was evaluated; a retry within the same minute may still run.
		s.release(rep.Minute)
		rep.Duration = time.Since(rep.Started)
		s.log.Error("sweep aborted", logx.String("minute", rep.Minute), logx.Err(rep.Err))
		s.record(rep)
		return rep
	}
	rep.Tenants = len(tenants)
	s.log.Debug("sweep started", logx.String("minute", rep.Minute), logx.String("day", m.Weekday), logx.Int("tenants", len(tenants)))

	if workers > len(tenants) {
		workers = len(tenants)
	}
	jobs := make(chan string)
	var (
		mu       sync.Mutex
		rung     int
		failures []*TenantError
		wg       sync.WaitGroup
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for tenant := range jobs {
				n, err := s.evaluateTenant(ctx, tenant, m, timeout)
				mu.Lock()
				rung += n
				if err != nil {
					failures = append(failures, &TenantError{TenantID: tenant, Err: err})
				}
				mu.Unlock()
			}
		}()
	}
	for _, t := range tenants {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].TenantID < failures[j].TenantID })
	rep.Rung = rung
	rep.Failures = failures
	rep.Duration = time.Since(rep.Started)
	for _, f := range failures {
		s.log.Error("tenant evaluation failed", logx.Tenant(f.TenantID), logx.String("minute", rep.Minute), logx.Err(f.Err))
	}
	s.log.Debug("sweep finished",
		logx.String("minute", rep.Minute),
		logx.Int("tenants", rep.Tenants),
		logx.Int("rung", rep.Rung),
		logx.Int("failed", len(failures)),
		logx.Duration("took", rep.Duration),
	)
	s.record(rep)
	return rep
}

type matchResult struct {
	bells []schedule.Bell
	err   error
}

// evaluateTenant resolves and matches under a per-tenant deadline, then notifies.
// Bells are dispatched only when the lookup finished in time, so an abandoned
// lookup can never ring late.
func (s *Service) evaluateTenant(ctx context.Context, tenant string, m schedule.Moment, timeout time.Duration) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan matchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in tenant evaluation", logx.Tenant(tenant), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				done <- matchResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		bells, err := s.match(tctx, tenant, m)
		done <- matchResult{bells: bells, err: err}
	}()

	var res matchResult
	select {
	case res = <-done:
	case <-tctx.Done():
		return 0, tctx.Err()
	}
	if res.err != nil {
		return 0, res.err
	}
	return s.ring(tenant, res.bells)
}

// ring hands matched bells to the notifier. A panicking notifier fails this
// tenant only; bells already handed over still count.
func (s *Service) ring(tenant string, bells []schedule.Bell) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in bell dispatch", logx.Tenant(tenant), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	for _, b := range bells {
		s.notifier.NotifyBellRing(tenant, b.Name, b.Time)
		n++
	}
	return n, nil
}

func (s *Service) match(ctx context.Context, tenant string, m schedule.Moment) ([]schedule.Bell, error) {
	res, err := s.resolver.ResolveEffectiveSchedule(ctx, tenant, m.Date)
	if err != nil {
		return nil, err
	}
	if res.ScheduleID == "" {
		return nil, nil
	}
	return s.matcher.MatchBells(ctx, res.ScheduleID, m.Weekday, m.TimeOfDay)
}

func (s *Service) release(key string) {
	s.claimMu.Lock()
	delete(s.claimed, key)
	s.claimMu.Unlock()
}

// claim marks the minute as swept. It returns false if it already was.
func (s *Service) claim(key string) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if _, ok := s.claimed[key]; ok {
		return false
	}
	s.claimed[key] = struct{}{}
	// Keys sort chronologically; keep only the most recent ones.
	for len(s.claimed) > keptMinuteKeys {
		oldest := ""
		for k := range s.claimed {
			if oldest == "" || k < oldest {
				oldest = k
			}
		}
		delete(s.claimed, oldest)
	}
	return true
}

func (s *Service) record(rep SweepReport) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if rep.Skipped {
		s.totals.Skipped++
		return
	}
	s.last = rep
	s.totals.Sweeps++
	s.totals.Rung += uint64(rep.Rung)
	s.totals.Failures += uint64(len(rep.Failures))
}
