// Package authoring is the write path for schedules, bells and special days.
//
// Every operation is scoped to one tenant: a schedule owned by another tenant is
// reported as ErrForeignSchedule. Successful actions are recorded in the store's
// activity log and, when the context carries a session, in its activity log too.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"schoolbell/internal/schedule"
	"schoolbell/internal/session"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
)

var ErrForeignSchedule = errors.New("schedule belongs to another school")

type Service struct {
	store storage.Store
	clock schedule.Clock
	log   logx.Logger
}

func New(store storage.Store, clock schedule.Clock, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, clock: clock, log: log.With(logx.String("comp", "authoring"))}
}

// ownedSchedule loads a schedule and checks it belongs to tenantID.
func (s *Service) ownedSchedule(ctx context.Context, tenantID, scheduleID string) (*schedule.ScheduleSet, error) {
	set, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", scheduleID, err)
	}
	if set == nil {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, storage.ErrNotFound)
	}
	if set.TenantID != tenantID {
		return nil, ErrForeignSchedule
	}
	return set, nil
}

func (s *Service) ownedBell(ctx context.Context, tenantID, bellID string) (*schedule.Bell, error) {
	b, err := s.store.GetBell(ctx, bellID)
	if err != nil {
		return nil, fmt.Errorf("load bell %s: %w", bellID, err)
	}
	if b == nil {
		return nil, fmt.Errorf("bell %s: %w", bellID, storage.ErrNotFound)
	}
	if _, err := s.ownedSchedule(ctx, tenantID, b.ScheduleID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) record(ctx context.Context, tenantID, msg string) {
	actor := ""
	if sess, ok := session.FromContext(ctx); ok {
		actor = sess.User
		sess.Activity().Add(msg)
	}
	err := s.store.AppendActivity(ctx, storage.ActivityEntry{
		TenantID: tenantID,
		At:       s.clock.Now(),
		Actor:    actor,
		Message:  msg,
	})
	if err != nil {
		s.log.Warn("activity append failed", logx.Tenant(tenantID), logx.Err(err))
	}
}

// ---- schedules ----

func (s *Service) CreateSchedule(ctx context.Context, tenantID, name string) (schedule.ScheduleSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schedule.ScheduleSet{}, schedule.FieldErrors{"Name": "required"}
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return schedule.ScheduleSet{}, err
	}
	if t == nil {
		return schedule.ScheduleSet{}, fmt.Errorf("school %s: %w", tenantID, storage.ErrNotFound)
	}
	set, err := s.store.CreateSchedule(ctx, schedule.ScheduleSet{TenantID: tenantID, Name: name, CreatedAt: s.clock.Now()})
	if err != nil {
		return schedule.ScheduleSet{}, fmt.Errorf("create schedule: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Created schedule %q", name))
	return set, nil
}

func (s *Service) RenameSchedule(ctx context.Context, tenantID, scheduleID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return schedule.FieldErrors{"Name": "required"}
	}
	set, err := s.ownedSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return err
	}
	if err := s.store.RenameSchedule(ctx, scheduleID, name); err != nil {
		return fmt.Errorf("rename schedule: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Renamed schedule %q to %q", set.Name, name))
	return nil
}

// DeleteSchedule removes the set with its bells. Special days pointing at it stay
// and evaluate to no bells.
func (s *Service) DeleteSchedule(ctx context.Context, tenantID, scheduleID string) error {
	set, err := s.ownedSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSchedule(ctx, scheduleID); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Deleted schedule %q", set.Name))
	return nil
}

// SetActiveSchedule makes scheduleID the tenant's default; "" clears it.
func (s *Service) SetActiveSchedule(ctx context.Context, tenantID, scheduleID string) error {
	msg := "Cleared active schedule"
	if scheduleID != "" {
		set, err := s.ownedSchedule(ctx, tenantID, scheduleID)
		if err != nil {
			return err
		}
		msg = fmt.Sprintf("Activated schedule %q", set.Name)
	}
	if err := s.store.SetActiveSchedule(ctx, tenantID, scheduleID); err != nil {
		return fmt.Errorf("set active schedule: %w", err)
	}
	s.record(ctx, tenantID, msg)
	return nil
}

// ---- bells ----

// AddBell validates and stores b under its ScheduleID.
func (s *Service) AddBell(ctx context.Context, tenantID string, b schedule.Bell) (schedule.Bell, error) {
	if b.SoundID == "" {
		b.SoundID = schedule.DefaultSoundID
	}
	if err := schedule.ValidateBell(b); err != nil {
		return schedule.Bell{}, err
	}
	if _, err := s.ownedSchedule(ctx, tenantID, b.ScheduleID); err != nil {
		return schedule.Bell{}, err
	}
	b.ID = ""
	out, err := s.store.CreateBell(ctx, b)
	if err != nil {
		return schedule.Bell{}, fmt.Errorf("create bell: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Added bell %q on %s at %s", b.Name, b.Day, b.Time))
	return out, nil
}

// BellPatch carries the fields to change; nil means keep.
type BellPatch struct {
	Day           *string            `json:"day,omitempty"`
	Time          *string            `json:"time,omitempty"`
	Name          *string            `json:"name,omitempty"`
	Enabled       *bool              `json:"enabled,omitempty"`
	BellType      *schedule.BellType `json:"bellType,omitempty"`
	BreakDuration *int               `json:"breakDuration,omitempty"`
	SoundID       *string            `json:"soundId,omitempty"`
}

func (p BellPatch) apply(b schedule.Bell) schedule.Bell {
	if p.Day != nil {
		b.Day = *p.Day
	}
	if p.Time != nil {
		b.Time = *p.Time
	}
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Enabled != nil {
		b.Enabled = *p.Enabled
	}
	if p.BellType != nil {
		b.BellType = *p.BellType
	}
	if p.BreakDuration != nil {
		b.BreakDuration = *p.BreakDuration
	}
	if p.SoundID != nil {
		b.SoundID = *p.SoundID
	}
	return b
}

func (s *Service) UpdateBell(ctx context.Context, tenantID, bellID string, patch BellPatch) (schedule.Bell, error) {
	cur, err := s.ownedBell(ctx, tenantID, bellID)
	if err != nil {
		return schedule.Bell{}, err
	}
	next := patch.apply(*cur)
	if err := schedule.ValidateBell(next); err != nil {
		return schedule.Bell{}, err
	}
	if err := s.store.UpdateBell(ctx, next); err != nil {
		return schedule.Bell{}, fmt.Errorf("update bell: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Updated bell %q on %s at %s", next.Name, next.Day, next.Time))
	return next, nil
}

func (s *Service) DeleteBell(ctx context.Context, tenantID, bellID string) error {
	b, err := s.ownedBell(ctx, tenantID, bellID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBell(ctx, bellID); err != nil {
		return fmt.Errorf("delete bell: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Deleted bell %q on %s at %s", b.Name, b.Day, b.Time))
	return nil
}

// ---- special days ----

// SetSpecialDay upserts the rule for sd.Date. A HOLIDAY drops any override id;
// an OVERRIDE must name a schedule owned by the tenant.
func (s *Service) SetSpecialDay(ctx context.Context, tenantID string, sd schedule.SpecialDay) (schedule.SpecialDay, error) {
	sd.TenantID = tenantID
	if sd.Type == schedule.DayHoliday {
		sd.OverrideScheduleID = ""
	}
	if err := schedule.ValidateSpecialDay(sd); err != nil {
		return schedule.SpecialDay{}, err
	}
	msg := fmt.Sprintf("Marked %s as holiday", sd.Date)
	if sd.Type == schedule.DayOverride {
		set, err := s.ownedSchedule(ctx, tenantID, sd.OverrideScheduleID)
		if err != nil {
			return schedule.SpecialDay{}, err
		}
		msg = fmt.Sprintf("Set %s to use schedule %q", sd.Date, set.Name)
	}
	sd.ID = ""
	out, err := s.store.UpsertSpecialDay(ctx, sd)
	if err != nil {
		return schedule.SpecialDay{}, fmt.Errorf("upsert special day: %w", err)
	}
	s.record(ctx, tenantID, msg)
	return out, nil
}

func (s *Service) DeleteSpecialDay(ctx context.Context, tenantID, date string) error {
	if err := s.store.DeleteSpecialDay(ctx, tenantID, date); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("special day %s: %w", date, storage.ErrNotFound)
		}
		return fmt.Errorf("delete special day: %w", err)
	}
	s.record(ctx, tenantID, fmt.Sprintf("Cleared special day %s", date))
	return nil
}
