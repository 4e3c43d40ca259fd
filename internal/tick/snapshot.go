package tick

func (s *Service) State() State {
	if s.inFlight.Load() > 0 {
		return StateEvaluating
	}
	return StateIdle
}

func (s *Service) Snapshot() Snapshot {
	loc, workers, timeout := s.settings()

	s.mu.Lock()
	enabled := s.cfg.Enabled
	c := s.c
	id := s.entryID
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:       enabled,
		Running:       c != nil,
		State:         s.State(),
		Timezone:      loc.String(),
		Workers:       workers,
		TenantTimeout: timeout,
	}
	if c != nil && id != 0 {
		snap.Next = c.Entry(id).Next
	}

	s.statsMu.Lock()
	last := s.last
	snap.Totals = s.totals
	s.statsMu.Unlock()

	snap.LastMinute = last.Minute
	snap.LastStarted = last.Started
	snap.LastDuration = last.Duration
	snap.LastTenants = last.Tenants
	snap.LastRung = last.Rung
	snap.LastFailures = len(last.Failures)
	return snap
}
