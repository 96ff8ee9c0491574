package service

import (
	"encoding/json"
	"sync"

	"github.com/faithlink/presence-service/internal/model"
)

// outFrame is one queued outbound message. sessionID is kept alongside the
// payload so viewer_count frames can be coalesced per session.
type outFrame struct {
	typ       string
	sessionID string
	data      []byte
}

// Subscriber is one connection's bounded outbound queue. A slice guarded by a
// mutex (rather than a buffered channel) so a saturated queue can coalesce
// viewer_count frames in place instead of blocking the hub.
type Subscriber struct {
	id     string
	userID string
	limit  int

	mu     sync.Mutex
	queue  []outFrame
	closed bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSubscriber creates a subscriber with a bounded queue of the given size.
func NewSubscriber(connID, userID string, queueSize int) *Subscriber {
	return &Subscriber{
		id:     connID,
		userID: userID,
		limit:  queueSize,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id this subscriber belongs to.
func (s *Subscriber) ID() string { return s.id }

// UserID returns the subscribing user id, empty for anonymous viewers.
func (s *Subscriber) UserID() string { return s.userID }

// Offer marshals v and enqueues it. Returns false only when the queue is full
// of undroppable frames, meaning the consumer is too slow to keep.
func (s *Subscriber) Offer(typ, sessionID string, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return true
	}
	return s.push(outFrame{typ: typ, sessionID: sessionID, data: data})
}

// push applies the backpressure policy: coalesce viewer_count per session,
// then evict the oldest viewer_count to admit lifecycle frames, and only then
// report overflow.
func (s *Subscriber) push(f outFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if f.typ == model.TypeViewerCount {
		for i := range s.queue {
			if s.queue[i].typ == model.TypeViewerCount && s.queue[i].sessionID == f.sessionID {
				s.queue[i] = f
				s.signal()
				return true
			}
		}
	}
	if len(s.queue) >= s.limit {
		evicted := false
		for i := range s.queue {
			if s.queue[i].typ == model.TypeViewerCount {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			// A new viewer_count is itself stale data; dropping it is fine.
			return f.typ == model.TypeViewerCount
		}
	}
	s.queue = append(s.queue, f)
	s.signal()
	return true
}

func (s *Subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TryNext pops the next queued frame without blocking.
func (s *Subscriber) TryNext() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	return f.data, true
}

// Wake is signalled whenever the queue becomes non-empty.
func (s *Subscriber) Wake() <-chan struct{} { return s.wake }

// Done is closed when the subscriber is shut down (teardown or forced close).
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close shuts the subscriber down. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

// QueueLen reports the number of queued frames.
func (s *Subscriber) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
