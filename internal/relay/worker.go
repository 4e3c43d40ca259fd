package relay

import (
	"context"
	"fmt"
	"time"

	"schoolbell/internal/eventbus"
	logx "schoolbell/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan eventbus.Event) {
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case e := <-queue:
			s.deliver(ctx, e)
		}
	}
}

func (s *Service) deliver(ctx context.Context, e eventbus.Event) {
	s.mu.Lock()
	sinks := s.sinks
	s.mu.Unlock()
	for _, sk := range sinks {
		if err := s.sendOne(ctx, sk, e); err != nil {
			s.failed.Add(1)
			continue
		}
		s.delivered.Add(1)
	}
}

func (s *Service) sendOne(ctx context.Context, sk Sink, e eventbus.Event) error {
	// Snapshot mutable dependencies to avoid races with Apply().
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	var last error
	for i := 0; i <= retry; i++ {
		err := safeSend(ctx, sk, e)
		if err == nil {
			return nil
		}
		last = err
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		s.log.Debug("relay send retry scheduled", logx.String("sink", sk.Name()), logx.Tenant(e.Tenant), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Warn("relay send failed", logx.String("sink", sk.Name()), logx.Tenant(e.Tenant), logx.Event(e.Name), logx.Err(last))
	return last
}

func safeSend(ctx context.Context, sk Sink, e eventbus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", sk.Name(), r)
		}
	}()
	return sk.Send(ctx, e)
}
