// Package bus fans engine events out to stream subscribers. Each subscriber
// owns a bounded queue: a slow consumer loses old events of the kind that is
// piling up rather than stalling the publisher, and learns it fell behind via
// a lagged flag so it can resynchronise from a fresh snapshot.
package bus

import (
	"context"
	"errors"
	"sync"

	"tradesim/internal/metrics"
	"tradesim/pkg/types"
)

// ErrClosed is returned by Next once a subscription has been closed and its
// queue drained.
var ErrClosed = errors.New("bus: subscription closed")

// Event is one published notification. Account routes account-scoped events;
// an empty Account means broadcast to every subscriber.
type Event struct {
	Kind    types.EventKind
	Account string
	Data    any
}

// Bus routes events from the engine to stream subscriptions.
type Bus struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	queueSize int
}

// New creates a bus. queueSize bounds each subscriber's pending queue.
func New(queueSize int) *Bus {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe registers a subscriber scoped to an account. The subscriber
// receives broadcasts plus events addressed to its account.
func (b *Bus) Subscribe(account string) *Subscription {
	s := &Subscription{
		bus:     b,
		account: account,
		limit:   b.queueSize,
		notify:  make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers events to matching subscribers in order. It never blocks
// on a slow subscriber; overflow evicts from that subscriber's queue.
func (b *Bus) Publish(events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		for s := range b.subs {
			if e.Account != "" && s.account != e.Account {
				continue
			}
			s.push(e)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Blocked Next calls return ErrClosed after
// draining.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one subscriber's bounded event queue.
type Subscription struct {
	bus     *Bus
	account string
	limit   int

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	lagged bool
	closed bool
}

// push appends an event, evicting on overflow: the oldest queued event of the
// same kind goes first, the oldest overall if no kind matches. Called with
// bus.mu held; never takes bus.mu itself.
func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		evict := 0
		for i, pending := range s.queue {
			if pending.Kind == e.Kind {
				evict = i
				break
			}
		}
		metrics.Get().RecordEventDropped(string(s.queue[evict].Kind))
		s.queue = append(s.queue[:evict], s.queue[evict+1:]...)
		s.lagged = true
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.wake()
}

// Next blocks until events are available and drains them all. The second
// return reports whether the queue overflowed since the previous call; the
// flag is cleared on return. After Close, pending events are still delivered,
// then Next returns ErrClosed.
func (s *Subscription) Next(ctx context.Context) ([]Event, bool, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			batch := s.queue
			lagged := s.lagged
			s.queue = nil
			s.lagged = false
			s.mu.Unlock()
			return batch, lagged, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close detaches the subscription from the bus and wakes any blocked Next.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.wake()
	s.bus.remove(s)
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
