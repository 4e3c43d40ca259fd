package authoring

import (
	"context"
	"errors"
	"fmt"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// command is one reversible store write. undo is captured when do succeeds.
type command struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// journal runs commands and remembers the applied ones so they can be reversed.
type journal struct {
	applied []command
}

func (j *journal) run(ctx context.Context, c command) error {
	if err := c.do(ctx); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	j.applied = append(j.applied, c)
	return nil
}

// rollback undoes applied commands newest first. It ignores ctx cancellation so
// a cancelled request still restores the schedule.
func (j *journal) rollback(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(j.applied) - 1; i >= 0; i-- {
		c := j.applied[i]
		if c.undo == nil {
			continue
		}
		if err := c.undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", c.name, err))
		}
	}
	j.applied = nil
	return errors.Join(errs...)
}

// GenerateDay expands req into bells and writes them to req.ScheduleID. In
// overwrite mode the day's existing bells are removed first. If any write fails
// the applied writes are reversed and the schedule is left as it was.
func (s *Service) GenerateDay(ctx context.Context, tenantID string, req schedule.GenerateRequest) ([]schedule.Bell, error) {
	bells, err := schedule.GenerateDaySchedule(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedSchedule(ctx, tenantID, req.ScheduleID); err != nil {
		return nil, err
	}

	var (
		j       journal
		created = make([]schedule.Bell, 0, len(bells))
	)
	if req.Mode == schedule.ModeOverwrite {
		var removed []schedule.Bell
		err := j.run(ctx, command{
			name: "clear " + req.Day,
			do: func(ctx context.Context) error {
				var err error
				removed, err = s.store.DeleteBellsForDay(ctx, req.ScheduleID, req.Day)
				return err
			},
			undo: func(ctx context.Context) error {
				var errs []error
				for _, b := range removed {
					if _, err := s.store.CreateBell(ctx, b); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		})
		if err != nil {
			return nil, s.abort(ctx, &j, tenantID, err)
		}
	}

	for _, b := range bells {
		var out schedule.Bell
		err := j.run(ctx, command{
			name: fmt.Sprintf("create %q at %s", b.Name, b.Time),
			do: func(ctx context.Context) error {
				var err error
				out, err = s.store.CreateBell(ctx, b)
				return err
			},
			undo: func(ctx context.Context) error { return s.store.DeleteBell(ctx, out.ID) },
		})
		if err != nil {
			return nil, s.abort(ctx, &j, tenantID, err)
		}
		created = append(created, out)
	}

	s.record(ctx, tenantID, fmt.Sprintf("Generated %d bells for %s (%s)", len(created), req.Day, req.Mode))
	return created, nil
}

func (s *Service) abort(ctx context.Context, j *journal, tenantID string, cause error) error {
	if rerr := j.rollback(ctx); rerr != nil {
		s.log.Error("generate rollback incomplete", logx.Tenant(tenantID), logx.Err(rerr))
		return fmt.Errorf("generate: %w (rollback: %v)", cause, rerr)
	}
	return fmt.Errorf("generate: %w", cause)
}
