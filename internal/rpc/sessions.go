package rpc

import (
	"sync"

	"github.com/google/uuid"

	"ibkr-copilot/internal/metrics"
)

const DefaultSessionQueueSize = 64

// Session is one event-stream client. Replies are queued until the stream
// writes them.
type Session struct {
	id   string
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *Session) ID() string { return s.id }

// C yields queued messages.
func (s *Session) C() <-chan []byte { return s.ch }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

type Sessions struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	queueSize int
}

func NewSessions(queueSize int) *Sessions {
	if queueSize < 1 {
		queueSize = DefaultSessionQueueSize
	}
	return &Sessions{sessions: make(map[string]*Session), queueSize: queueSize}
}

// Open creates a session with a fresh id.
func (s *Sessions) Open() *Session {
	sess := &Session{
		id:   uuid.NewString(),
		ch:   make(chan []byte, s.queueSize),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.SetRPCSessions(n)
	return sess
}

func (s *Sessions) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Deliver queues msg for session id without blocking. It reports false when
// the session is gone or its queue is full.
func (s *Sessions) Deliver(id string, msg []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	select {
	case sess.ch <- msg:
		return true
	default:
		return false
	}
}

// Close removes the session and discards anything still queued.
func (s *Sessions) Close(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return
	}
	metrics.SetRPCSessions(n)
	sess.once.Do(func() { close(sess.done) })
	for {
		select {
		case <-sess.ch:
		default:
			return
		}
	}
}

// CloseAll closes every session; their streams end.
func (s *Sessions) CloseAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Close(id)
	}
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
