// Package bus is the append-only, bounded-history event bus: it assigns
// monotonic ids, retains a ring of recent events, and fans synchronous
// deliveries out to filtered subscribers outside its own lock.
package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/antigravity-dev/warden/internal/domain"
)

// Filter narrows a subscription or a history query. A zero-value field
// means "match any".
type Filter struct {
	Project string
	AgentID string
	Types   map[domain.EventType]struct{}
}

// Match reports whether e satisfies f.
func (f Filter) Match(e domain.NormalizedEvent) bool {
	if f.Project != "" && f.Project != e.Project {
		return false
	}
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	if len(f.Types) > 0 {
		if _, ok := f.Types[e.Type]; !ok {
			return false
		}
	}
	return true
}

// Subscriber is invoked synchronously, outside the bus lock, for every
// event matching its filter. It MUST NOT block — callers needing to do
// blocking work (SSE writers, webhook delivery) must buffer internally.
type Subscriber func(domain.NormalizedEvent)

type subscription struct {
	id     uint64
	filter Filter
	fn     Subscriber
}

// Bus is the append-only ring of NormalizedEvents.
type Bus struct {
	mu       sync.Mutex
	capacity int
	nextID   uint64
	ring     []domain.NormalizedEvent // oldest first
	subs     map[uint64]subscription
	subSeq   atomic.Uint64
}

// New returns a Bus with the given history capacity, clamped to
// the [100, 100000] capacity bound.
func New(capacity int) *Bus {
	if capacity < 100 {
		capacity = 100
	}
	if capacity > 100000 {
		capacity = 100000
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[uint64]subscription),
	}
}

// Emit assigns the event the next id, appends it (evicting the oldest on
// overflow), then synchronously fans it out to a lock-free snapshot of
// matching subscribers.
func (b *Bus) Emit(e domain.NormalizedEvent) domain.NormalizedEvent {
	b.mu.Lock()
	b.nextID++
	e.ID = fmt.Sprintf("evt-%d", b.nextID)
	b.ring = append(b.ring, e)
	if len(b.ring) > b.capacity {
		b.ring = b.ring[len(b.ring)-b.capacity:]
	}

	matched := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.Match(e) {
			matched = append(matched, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range matched {
		fn(e)
	}
	return e
}

// Subscribe registers callback for events matching filter and returns an
// unsubscribe function.
func (b *Bus) Subscribe(filter Filter, callback Subscriber) (unsubscribe func()) {
	id := b.subSeq.Add(1)
	b.mu.Lock()
	b.subs[id] = subscription{id: id, filter: filter, fn: callback}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// History returns retained events matching filter, optionally only those
// with an id strictly greater than sinceID ("evt-N"), optionally capped
// at limit (0 = unbounded).
func (b *Bus) History(filter Filter, sinceID string, limit int) []domain.NormalizedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	sinceN := parseEventSeq(sinceID)

	out := make([]domain.NormalizedEvent, 0, len(b.ring))
	for _, e := range b.ring {
		if sinceN > 0 && parseEventSeq(e.ID) <= sinceN {
			continue
		}
		if !filter.Match(e) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Snapshot returns the full retained ring, used by diagnostics endpoints.
func (b *Bus) Snapshot() []domain.NormalizedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.NormalizedEvent, len(b.ring))
	copy(out, b.ring)
	return out
}

func parseEventSeq(id string) uint64 {
	var n uint64
	_, err := fmt.Sscanf(id, "evt-%d", &n)
	if err != nil {
		return 0
	}
	return n
}
