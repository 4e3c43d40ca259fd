package tick

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// MinuteSpec fires at second 0 of every minute.
const MinuteSpec = "0 * * * * *"

// Config controls the tick service.
type Config struct {
	Enabled       bool
	Timezone      string        // IANA TZ; empty means the process local zone
	TenantTimeout time.Duration // per-tenant evaluation bound; 0 means 10s
	Workers       int           // tenants evaluated in parallel; 0 means 4
}

const (
	defaultTenantTimeout = 10 * time.Second
	defaultWorkers       = 4
	keptMinuteKeys       = 16
)

// Notifier receives matched bells.
type Notifier interface {
	NotifyBellRing(tenant, bellName, bellTime string)
}

// State of the tick loop.
type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
)

// TenantError is a failure confined to one tenant during a sweep.
type TenantError struct {
	TenantID string
	Err      error
}

func (e *TenantError) Error() string { return fmt.Sprintf("tenant %s: %v", e.TenantID, e.Err) }
func (e *TenantError) Unwrap() error { return e.Err }

// SweepReport summarizes one sweep.
type SweepReport struct {
	Minute   string
	Skipped  bool // minute already swept
	Started  time.Time
	Duration time.Duration
	Tenants  int
	Rung     int
	Failures []*TenantError
	Err      error // tenant listing failed; nothing was evaluated
}

type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	loc      *time.Location
	clock    schedule.Clock
	reader   schedule.Reader
	resolver *schedule.Resolver
	matcher  *schedule.Matcher
	notifier Notifier

	parser  cron.Parser
	c       *cron.Cron
	entryID cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc

	// claimed holds recently swept minute keys.
	claimMu sync.Mutex
	claimed map[string]struct{}

	inFlight atomic.Int32

	statsMu sync.Mutex
	last    SweepReport
	totals  Totals
}

// Totals are cumulative counters since process start.
type Totals struct {
	Sweeps   uint64 `json:"sweeps"`
	Skipped  uint64 `json:"skipped"`
	Rung     uint64 `json:"rung"`
	Failures uint64 `json:"failures"`
}

// Snapshot is a point-in-time view for status endpoints.
type Snapshot struct {
	Enabled       bool          `json:"enabled"`
	Running       bool          `json:"running"`
	State         State         `json:"state"`
	Timezone      string        `json:"timezone"`
	Workers       int           `json:"workers"`
	TenantTimeout time.Duration `json:"tenant_timeout"`
	Next          time.Time     `json:"next,omitempty"`
	LastMinute    string        `json:"last_minute,omitempty"`
	LastStarted   time.Time     `json:"last_started,omitempty"`
	LastDuration  time.Duration `json:"last_duration"`
	LastTenants   int           `json:"last_tenants"`
	LastRung      int           `json:"last_rung"`
	LastFailures  int           `json:"last_failures"`
	Totals        Totals        `json:"totals"`
}
