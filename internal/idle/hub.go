// ABOUTME: Idle event aggregator
// ABOUTME: ORs raised flags into per-subscriber accumulators and wakes waiters
package idle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Hub fans raised flags out to subscribers. Raise never blocks and may be
// called from any goroutine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscriber
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]*Subscriber)}
}

// Default is the process-wide hub
var Default = NewHub()

// Add raises flags on the Default hub
func Add(flags Flags) {
	Default.Raise(flags)
}

// Subscriber accumulates the flags raised since its last drain
type Subscriber struct {
	ID      uuid.UUID
	hub     *Hub
	pending atomic.Uint32
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Subscribe registers a new subscriber
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ID:   uuid.New(),
		hub:  h,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.close()
		return s
	}
	h.subs[s.ID] = s
	return s
}

// Raise ORs flags into every subscriber and wakes them
func (h *Hub) Raise(flags Flags) {
	if flags == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.pending.Or(uint32(flags))
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber and wakes their waiters
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		s.close()
		delete(h.subs, id)
	}
}

// Drain returns and clears every accumulated flag
func (s *Subscriber) Drain() Flags {
	return Flags(s.pending.Swap(0))
}

// Peek returns the accumulated flags without clearing them
func (s *Subscriber) Peek() Flags {
	return Flags(s.pending.Load())
}

// Wait blocks until a flag in mask is pending, then returns and clears only
// those flags. Flags outside the mask stay pending. It returns ErrClosed
// when the subscriber goes away and ctx.Err() on cancellation.
func (s *Subscriber) Wait(ctx context.Context, mask Flags) (Flags, error) {
	for {
		if got := s.take(mask); got != 0 {
			return got, nil
		}

		select {
		case <-s.wake:
		case <-s.done:
			if got := s.take(mask); got != 0 {
				return got, nil
			}
			return 0, ErrClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// take clears the masked bits that are set and returns them
func (s *Subscriber) take(mask Flags) Flags {
	return Flags(s.pending.And(^uint32(mask))) & mask
}

// Close unsubscribes
func (s *Subscriber) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.ID)
	s.hub.mu.Unlock()
	s.close()
}

// Done is closed when the subscriber is detached
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}
