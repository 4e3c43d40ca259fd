package tick

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

func New(cfg Config, reader schedule.Reader, notifier Notifier, clock schedule.Clock, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		clock:    clock,
		reader:   reader,
		resolver: schedule.NewResolver(reader, log.With(logx.String("step", "resolve"))),
		matcher:  schedule.NewMatcher(reader),
		notifier: notifier,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		claimed: map[string]struct{}{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps config. A timezone change re-creates the cron trigger in the new zone.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if oldTZ == newTZ {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.c == nil {
		return
	}
	old := s.c
	s.c = nil
	old.Stop()
	s.startCronLocked()
	s.log.Info("timezone changed; trigger restarted", logx.String("tz", s.loc.String()))
}

// Start registers the minute trigger. Sweeps run on ctx until Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.log.Debug("start requested", logx.Bool("enabled", s.cfg.Enabled), logx.String("tz", strings.TrimSpace(s.cfg.Timezone)))
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.String("cron", MinuteSpec))
}

func (s *Service) startCronLocked() {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	runCtx := s.runCtx
	id, err := c.AddFunc(MinuteSpec, func() {
		s.Sweep(runCtx, s.clock.Now())
	})
	if err != nil {
		s.log.Error("minute trigger rejected", logx.String("cron", MinuteSpec), logx.Err(err))
		return
	}
	s.entryID = id
	s.c = c
	c.Start()
}

// Stop stops the trigger and waits for an in-flight sweep until ctx ends; after
// that the sweep is abandoned through its context.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.entryID = 0
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("sweep still running at stop deadline; abandoning")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}

func (s *Service) settings() (loc *time.Location, workers int, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workers = s.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	timeout = s.cfg.TenantTimeout
	if timeout <= 0 {
		timeout = defaultTenantTimeout
	}
	return s.loc, workers, timeout
}

// Location is the zone minutes are evaluated in.
func (s *Service) Location() *time.Location {
	loc, _, _ := s.settings()
	return loc
}
