// Package relay forwards bus events to out-of-process consumers (Redis, MQTT
// bell controllers, Telegram chats).
//
// A single wildcard subscription feeds a bounded queue drained by a worker pool.
// Every delivery goes through one shared rate limiter and a bounded retry loop.
// Sink failures are logged and swallowed; they never reach the publisher.
package relay

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"schoolbell/internal/eventbus"
	logx "schoolbell/pkg/logx"
)

var (
	ErrQueueFull = errors.New("relay queue full")
	ErrStopped   = errors.New("relay stopped")
)

// Sink delivers one event somewhere. Send must honor ctx.
type Sink interface {
	Name() string
	Send(ctx context.Context, e eventbus.Event) error
}

type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
}

type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Sinks     int    `json:"sinks"`
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	bus     eventbus.Bus
	sinks   []Sink
	log     logx.Logger
	limiter *rate.Limiter

	queue     chan eventbus.Event
	stopCh    chan struct{}
	unsub     func()
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func New(cfg Config, bus eventbus.Bus, sinks []Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = withDefaults(cfg)
	return &Service{
		cfg:     cfg,
		bus:     bus,
		sinks:   sinks,
		log:     log.With(logx.String("comp", "relay")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && len(s.sinks) > 0
}

// Apply swaps the rate and retry settings. Workers and queue size apply on the
// next Start.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to every tenant and launches the workers. It is a no-op when
// already running or when there is nothing to deliver to.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	if !s.cfg.Enabled || len(s.sinks) == 0 {
		s.log.Debug("relay disabled", logx.Bool("enabled", s.cfg.Enabled), logx.Int("sinks", len(s.sinks)))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.stopCh = make(chan struct{})
	s.queue = make(chan eventbus.Event, s.cfg.QueueSize)
	queue, stopCh := s.queue, s.stopCh

	events, unsub := s.bus.Subscribe("", s.cfg.QueueSize)
	s.unsub = unsub

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range events {
			if err := s.enqueue(queue, e); err != nil {
				s.log.Warn("relay queue full; dropping event", logx.Tenant(e.Tenant), logx.Event(e.Name))
			}
		}
	}()

	workers := s.cfg.Workers
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in relay worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}

	names := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		names = append(names, sk.Name())
	}
	s.log.Info("relay started", logx.Int("workers", workers), logx.Int("rps", s.cfg.RatePerSec), logx.Any("sinks", names))
}

// Enqueue hands e to the workers directly, bypassing the bus.
func (s *Service) Enqueue(e eventbus.Event) error {
	s.mu.Lock()
	q := s.queue
	running := s.stopCh != nil
	s.mu.Unlock()
	if !running {
		return ErrStopped
	}
	return s.enqueue(q, e)
}

func (s *Service) enqueue(q chan eventbus.Event, e eventbus.Event) error {
	select {
	case q <- e:
		s.enqueued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh, cancel, unsub := s.stopCh, s.runCancel, s.unsub
	s.stopCh, s.runCancel, s.unsub, s.queue = nil, nil, nil, nil
	s.mu.Unlock()

	// Unsubscribing closes the bus channel and ends the pump.
	if unsub != nil {
		unsub()
	}
	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("relay stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("relay stop timed out; workers exit in background")
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	n := len(s.sinks)
	s.mu.Unlock()
	return Stats{
		Enqueued:  s.enqueued.Load(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Sinks:     n,
	}
}
