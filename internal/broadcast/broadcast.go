// Package broadcast fans relay events out to many bounded subscriber queues.
package broadcast

import (
	"sync"

	"ibkr-copilot/internal/metrics"
)

// DefaultQueueSize bounds a subscriber's backlog of live messages.
const DefaultQueueSize = 100

// Subscriber is one consumer of broadcast messages.
type Subscriber struct {
	id uint64
	ch chan []byte

	mu     sync.Mutex
	closed bool
}

// C returns the channel messages are delivered on. It is closed when the
// subscriber is removed from the registry.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

// ID returns the registry-assigned identifier.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// offer performs a non-blocking send. It reports false when the queue is
// full, in which case the subscriber is closed.
func (s *Subscriber) offer(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		s.closed = true
		close(s.ch)
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Registry holds the live subscribers.
type Registry struct {
	mu        sync.Mutex
	subs      map[uint64]*Subscriber
	nextID    uint64
	queueSize int
}

// NewRegistry creates a registry whose subscribers buffer up to queueSize
// live messages.
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		subs:      make(map[uint64]*Subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscriber. The snapshot messages are queued
// before the subscriber becomes visible to Broadcast, so they always arrive
// ahead of live updates.
func (r *Registry) Subscribe(snapshot ...[]byte) *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, len(snapshot)+r.queueSize)}
	for _, msg := range snapshot {
		sub.ch <- msg
	}

	r.mu.Lock()
	r.nextID++
	sub.id = r.nextID
	r.subs[sub.id] = sub
	n := len(r.subs)
	r.mu.Unlock()

	metrics.SetSubscribers(n)
	return sub
}

// Unsubscribe removes sub and closes its channel. Removing an unknown
// subscriber is a no-op.
func (r *Registry) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	r.remove(sub.id)
	sub.close()
}

// Broadcast delivers msg to every subscriber without blocking. Subscribers
// whose queue is full are dropped. It returns the number of deliveries.
func (r *Registry) Broadcast(msg []byte) int {
	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	delivered := 0
	for _, sub := range subs {
		if sub.offer(msg) {
			delivered++
			continue
		}
		if r.remove(sub.id) {
			metrics.SubscriberDropped()
		}
	}
	return delivered
}

// Len returns the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry) remove(id uint64) bool {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()

	if ok {
		metrics.SetSubscribers(n)
	}
	return ok
}
