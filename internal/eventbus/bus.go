package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event names on the wire.
const (
	RingTheBell = "ring-the-bell"
	PlayAlert   = "play-alert"
	StopAlert   = "stop-alert"
)

// Event is one notification for one tenant.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Payload should be small and JSON-serializable.
type Event struct {
	Tenant  string    `json:"tenant"`
	Name    string    `json:"event"`
	Time    time.Time `json:"time"`
	Payload any       `json:"data"`
}

// Bus is a tenant-scoped pub/sub primitive.
type Bus interface {
	Publish(e Event)
	// Subscribe registers a listener for tenant. An empty tenant receives every event.
	// Replay events are queued on the channel before it can see any publish.
	// The returned func unsubscribes and closes the channel; calling it twice is safe.
	Subscribe(tenant string, buffer int, replay ...Event) (ch <-chan Event, unsubscribe func())
	// Subscribers counts live listeners of tenant, not counting wildcard ones.
	Subscribers(tenant string) int
	// Dropped counts deliveries skipped because a listener was full.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	tenant string
	ch     chan Event
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe closes only after taking the
	// write lock, so a channel is never closed while a send can reach it.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.tenant != "" && s.tenant != e.Tenant {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(tenant string, buffer int, replay ...Event) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	if buffer < len(replay) {
		buffer = len(replay)
	}
	ch := make(chan Event, buffer)
	for _, e := range replay {
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		ch <- e
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = &sub{tenant: tenant, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Subscribers(tenant string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.tenant != "" && s.tenant == tenant {
			n++
		}
	}
	return n
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
