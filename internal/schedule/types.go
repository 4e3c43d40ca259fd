package schedule

import (
	"context"
	"errors"
	"time"
)

// ErrDanglingReference marks a schedule id that no longer resolves to a schedule.
var ErrDanglingReference = errors.New("dangling schedule reference")

// Weekday names as stored on bells. Index matches time.Weekday (Sunday = 0).
var Weekdays = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

type BellType string

const (
	BellLesson BellType = "lesson"
	BellBreak  BellType = "break"
)

type SpecialDayType string

const (
	DayHoliday  SpecialDayType = "HOLIDAY"
	DayOverride SpecialDayType = "OVERRIDE"
)

// Tenant is one school.
type Tenant struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	APIKey           string    `json:"-"`
	ActiveScheduleID string    `json:"activeScheduleId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ScheduleSet is a named weekly collection of bells. Whether it is active is
// recorded on the tenant, not here.
type ScheduleSet struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Bells     []Bell    `json:"bells,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bell is one ring at a weekday and minute. Duplicate (day, time) pairs within a
// schedule are legal and all of them ring.
type Bell struct {
	ID            string   `json:"id"`
	ScheduleID    string   `json:"scheduleId"`
	Day           string   `json:"day" validate:"required,weekday"`
	Time          string   `json:"time" validate:"required,hhmm"`
	Name          string   `json:"name" validate:"required"`
	Enabled       bool     `json:"enabled"`
	BellType      BellType `json:"bellType" validate:"required,oneof=lesson break"`
	BreakDuration int      `json:"breakDuration" validate:"gte=0"`
	SoundID       string   `json:"soundId"`
}

// SpecialDay is a calendar exception for one tenant and date.
// OverrideScheduleID is set iff Type is DayOverride.
type SpecialDay struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenantId"`
	Date               string         `json:"date" validate:"required,isodate"`
	Type               SpecialDayType `json:"type" validate:"required,oneof=HOLIDAY OVERRIDE"`
	OverrideScheduleID string         `json:"overrideScheduleId,omitempty" validate:"required_if=Type OVERRIDE,excluded_if=Type HOLIDAY"`
}

// Reader is the read side the evaluation path depends on. Missing rows are not
// errors: implementations return "", nil or an empty slice.
type Reader interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
	GetActiveScheduleID(ctx context.Context, tenantID string) (string, error)
	GetSpecialDay(ctx context.Context, tenantID, date string) (*SpecialDay, error)
	ScheduleExists(ctx context.Context, scheduleID string) (bool, error)
	GetBellsForSchedule(ctx context.Context, scheduleID string) ([]Bell, error)
}
