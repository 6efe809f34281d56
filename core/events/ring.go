package events

import (
	"sync"

	"fixedlend/core/types"
)

// Ring keeps the most recent events in a fixed-size buffer.
type Ring struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	full  bool
	total uint64
}

// NewRing returns a ring holding up to size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{buf: make([]Event, size)}
}

// Emit implements the Emitter interface.
func (r *Ring) Emit(e Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	r.mu.Unlock()
}

// Total counts every event ever emitted into the ring.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Recent renders up to limit of the latest events, oldest first. Events
// that cannot render themselves are reported by type only.
func (r *Ring) Recent(limit int) []*types.Event {
	r.mu.Lock()
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	picked := make([]Event, 0, limit)
	for i := limit; i > 0; i-- {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		picked = append(picked, r.buf[idx])
	}
	r.mu.Unlock()

	out := make([]*types.Event, 0, len(picked))
	for _, e := range picked {
		if typed, ok := e.(types.Typed); ok {
			out = append(out, typed.Event())
			continue
		}
		out = append(out, &types.Event{Type: e.EventType(), Attributes: map[string]string{}})
	}
	return out
}
