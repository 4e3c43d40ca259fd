// Package session tracks one connected operator: who they are, what they did,
// and what has to be undone when they leave.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session belongs to one (tenant, user) connection. Cleanups registered with
// OnEnd run once, newest first, when End is called.
type Session struct {
	ID     string
	Tenant string
	User   string

	log *ActivityLog

	mu       sync.Mutex
	cleanups []func()
	ended    bool
}

func New(tenant, user string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Tenant: tenant,
		User:   user,
		log:    NewActivityLog(nil),
	}
}

// OnEnd registers fn. On an already ended session fn runs immediately.
func (s *Session) OnEnd(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		runCleanup(fn)
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// End runs the cleanups. Only the first call does anything.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fns := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		runCleanup(fns[i])
	}
}

func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) Activity() *ActivityLog { return s.log }

// a panicking cleanup must not skip the ones after it
func runCleanup(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type ctxKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// Entry is one activity line.
type Entry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// ActivityLog is append-only.
type ActivityLog struct {
	now func() time.Time

	mu      sync.RWMutex
	entries []Entry
}

// NewActivityLog uses now for timestamps; nil means time.Now.
func NewActivityLog(now func() time.Time) *ActivityLog {
	if now == nil {
		now = time.Now
	}
	return &ActivityLog{now: now}
}

func (l *ActivityLog) Add(message string) Entry {
	e := Entry{At: l.now(), Message: message}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e
}

// Entries returns a copy, oldest first.
func (l *ActivityLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
