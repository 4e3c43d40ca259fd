package storage

import (
	"context"
	"errors"
	"time"

	"schoolbell/internal/schedule"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values: "memory", "file", "sqlite", "postgres". Empty means memory.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ActivityEntry is one line of the per-school activity log.
type ActivityEntry struct {
	ID       int64     `json:"id"`
	TenantID string    `json:"tenantId"`
	At       time.Time `json:"at"`
	Actor    string    `json:"actor,omitempty"`
	Message  string    `json:"message"`
}

// Reader extends the evaluation read contract with lookups used by the
// authoring and HTTP layers.
type Reader interface {
	schedule.Reader

	GetTenant(ctx context.Context, id string) (*schedule.Tenant, error)
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*schedule.Tenant, error)
	// GetSchedule returns the set with its bells, or nil.
	GetSchedule(ctx context.Context, id string) (*schedule.ScheduleSet, error)
	// ListSchedules returns the tenant's sets without bells, ordered by name.
	ListSchedules(ctx context.Context, tenantID string) ([]schedule.ScheduleSet, error)
	GetBell(ctx context.Context, id string) (*schedule.Bell, error)
	ListSpecialDays(ctx context.Context, tenantID string) ([]schedule.SpecialDay, error)
	// RecentActivity returns up to limit entries, newest first.
	RecentActivity(ctx context.Context, tenantID string, limit int) ([]ActivityEntry, error)
}

// Writer is the authoring side. Ids are generated when empty.
type Writer interface {
	CreateTenant(ctx context.Context, t schedule.Tenant) (schedule.Tenant, error)
	RenameTenant(ctx context.Context, id, name string) error
	// DeleteTenant removes the school and everything it owns.
	DeleteTenant(ctx context.Context, id string) error
	// SetActiveSchedule points the tenant at scheduleID; "" clears it.
	SetActiveSchedule(ctx context.Context, tenantID, scheduleID string) error

	CreateSchedule(ctx context.Context, s schedule.ScheduleSet) (schedule.ScheduleSet, error)
	RenameSchedule(ctx context.Context, id, name string) error
	// DeleteSchedule removes the set and its bells and clears active pointers at it.
	DeleteSchedule(ctx context.Context, id string) error

	CreateBell(ctx context.Context, b schedule.Bell) (schedule.Bell, error)
	UpdateBell(ctx context.Context, b schedule.Bell) error
	DeleteBell(ctx context.Context, id string) error
	// DeleteBellsForDay removes every bell of (scheduleID, day) and returns them.
	DeleteBellsForDay(ctx context.Context, scheduleID, day string) ([]schedule.Bell, error)

	// UpsertSpecialDay inserts or replaces the tenant's rule for sd.Date.
	UpsertSpecialDay(ctx context.Context, sd schedule.SpecialDay) (schedule.SpecialDay, error)
	DeleteSpecialDay(ctx context.Context, tenantID, date string) error

	AppendActivity(ctx context.Context, e ActivityEntry) error
}

type Store interface {
	Reader
	Writer
	Close() error
}
