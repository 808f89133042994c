// Package bus is the broadcast channel the engine uses to announce
// storage changes to external observers.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an event the engine can emit.
type Kind string

const (
	KindFeedUpdated   Kind = "feed-updated"
	KindEntryAdded    Kind = "entry-added"
	KindPollCompleted Kind = "poll-completed"
)

// Event is a single JSON-serializable fact. The engine emits primitives
// only; aggregates like unread counts are recomputed downstream.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	FeedID  int64     `json:"feed_id,omitempty"`
	EntryID int64     `json:"entry_id,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	At      time.Time `json:"at"`
}

// Bus fans events out to any number of subscribers. Publishing never
// blocks on subscriber processing speed: each subscriber owns an
// unbounded pending queue drained by its own goroutine. Ordering is
// guaranteed only per publishing call site.
//
// The lifecycle belongs to the caller of the engine: construct with [New],
// tear down with [Close].
type Bus struct {
	mu     sync.Mutex
	closed bool
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	mu      sync.Mutex
	wake    *sync.Cond
	pending []Event
	closed  bool
	done    chan struct{}
	out     chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers ev to every current subscriber and returns
// immediately. Events published after Close are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.enqueue(ev)
	}
}

// Subscribe registers a new listener. The returned cancel function
// detaches it and closes its channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{out: make(chan Event), done: make(chan struct{})}
	sub.wake = sync.NewCond(&sub.mu)
	go sub.drain()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.close()
		return sub.out, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.close()
		})
	}
	return sub.out, cancel
}

// Close detaches every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[int]*subscriber{}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, ev)
	s.wake.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.wake.Signal()
}

// drain moves events from the pending queue to the outbound channel.
// Already-queued events are still offered after close, but a receiver
// that has gone away does not pin the goroutine.
func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.wake.Wait()
		}
		if len(s.pending) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			close(s.out)
			return
		}
	}
}
