package schedule

import (
	"context"
	"fmt"
	"strings"

	logx "schoolbell/pkg/logx"
)

// Source says why a schedule id was (or was not) chosen.
type Source string

const (
	SourceNone     Source = "none"
	SourceHoliday  Source = "holiday"
	SourceOverride Source = "override"
	SourceActive   Source = "active"
)

// Resolution is the outcome of ResolveEffectiveSchedule. ScheduleID is empty when
// no bells should ring.
type Resolution struct {
	ScheduleID string
	Source     Source
	// Dangling is set when the chosen id no longer exists; ScheduleID is then empty.
	Dangling    bool
	DanglingRef string
}

type Resolver struct {
	r   Reader
	log logx.Logger
}

func NewResolver(r Reader, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{r: r, log: log}
}

// ResolveEffectiveSchedule picks the schedule in effect for tenantID on date.
//
//   - HOLIDAY special day: no schedule, whatever the active one is.
//   - OVERRIDE special day: the override schedule.
//   - otherwise: the tenant's active schedule (possibly none).
//
// A chosen id that does not exist resolves to "no schedule" and is logged; it is
// never returned as an error. Errors come only from the reader.
func (s *Resolver) ResolveEffectiveSchedule(ctx context.Context, tenantID, date string) (Resolution, error) {
	sd, err := s.r.GetSpecialDay(ctx, tenantID, date)
	if err != nil {
		return Resolution{}, fmt.Errorf("special day lookup: %w", err)
	}

	var res Resolution
	switch {
	case sd != nil && sd.Type == DayHoliday:
		return Resolution{Source: SourceHoliday}, nil
	case sd != nil && sd.Type == DayOverride:
		res = Resolution{ScheduleID: strings.TrimSpace(sd.OverrideScheduleID), Source: SourceOverride}
	default:
		id, err := s.r.GetActiveScheduleID(ctx, tenantID)
		if err != nil {
			return Resolution{}, fmt.Errorf("active schedule lookup: %w", err)
		}
		res = Resolution{ScheduleID: strings.TrimSpace(id), Source: SourceActive}
	}
	if res.ScheduleID == "" {
		return Resolution{Source: SourceNone}, nil
	}

	ok, err := s.r.ScheduleExists(ctx, res.ScheduleID)
	if err != nil {
		return Resolution{}, fmt.Errorf("schedule lookup: %w", err)
	}
	if !ok {
		s.log.Warn("schedule reference does not resolve; no bells",
			logx.Tenant(tenantID),
			logx.String("date", date),
			logx.String("source", string(res.Source)),
			logx.String("schedule", res.ScheduleID),
			logx.Err(ErrDanglingReference),
		)
		return Resolution{Source: res.Source, Dangling: true, DanglingRef: res.ScheduleID}, nil
	}
	return res, nil
}
