package projector

import (
	"sort"
	"time"

	"github.com/brickfolio/estate-indexer/internal/domain"
)

// appliedSet is a bounded set of applied event IDs backed by a ring buffer.
// Idempotent replay detection only needs to cover the source's redelivery
// window, so old IDs are evicted in insertion order.
type appliedSet struct {
	ids      map[string]struct{}
	ring     []string
	next     int
	capacity int
}

func newAppliedSet(capacity int) *appliedSet {
	return &appliedSet{
		ids:      make(map[string]struct{}, capacity),
		ring:     make([]string, capacity),
		capacity: capacity,
	}
}

func (s *appliedSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *appliedSet) add(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	if evicted := s.ring[s.next]; evicted != "" {
		delete(s.ids, evicted)
	}
	s.ring[s.next] = id
	s.next = (s.next + 1) % s.capacity
	s.ids[id] = struct{}{}
}

// pendingEvent is one out-of-sequence event waiting for its predecessor
type pendingEvent struct {
	event      *domain.Event
	enqueuedAt time.Time
}

// sequenceBuffer holds events that arrived ahead of their predecessor,
// keyed by sequence. Bounded by the projector config; overflow and timeout
// are handled by the caller.
type sequenceBuffer struct {
	pending map[uint64]pendingEvent
	oldest  time.Time
}

func newSequenceBuffer() *sequenceBuffer {
	return &sequenceBuffer{pending: make(map[uint64]pendingEvent)}
}

func (b *sequenceBuffer) add(event *domain.Event, now time.Time) {
	seq := event.SequenceOrZero()
	if _, ok := b.pending[seq]; ok {
		return
	}
	b.pending[seq] = pendingEvent{event: event, enqueuedAt: now}
	if len(b.pending) == 1 || now.Before(b.oldest) {
		b.oldest = now
	}
}

func (b *sequenceBuffer) len() int {
	return len(b.pending)
}

func (b *sequenceBuffer) oldestAt() time.Time {
	return b.oldest
}

// take removes and returns the event with the exact sequence, or nil
func (b *sequenceBuffer) take(seq uint64) *domain.Event {
	pe, ok := b.pending[seq]
	if !ok {
		return nil
	}
	delete(b.pending, seq)
	b.refreshOldest()
	return pe.event
}

// drain empties the buffer, returning all pending events in sequence order
func (b *sequenceBuffer) drain() []*domain.Event {
	events := make([]*domain.Event, 0, len(b.pending))
	for _, pe := range b.pending {
		events = append(events, pe.event)
	}
	b.pending = make(map[uint64]pendingEvent)
	b.oldest = time.Time{}
	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceOrZero() < events[j].SequenceOrZero()
	})
	return events
}

func (b *sequenceBuffer) refreshOldest() {
	b.oldest = time.Time{}
	for _, pe := range b.pending {
		if b.oldest.IsZero() || pe.enqueuedAt.Before(b.oldest) {
			b.oldest = pe.enqueuedAt
		}
	}
}
