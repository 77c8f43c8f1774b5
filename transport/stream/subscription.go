package stream

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/chatlink/operation"
	"github.com/pithecene-io/chatlink/types"
)

// Event is one delivery on a subscription: either a pushed envelope or a
// terminal error. An event with Err set is always the last one.
type Event struct {
	Envelope *types.Envelope
	Err      error
}

// Subscription is the handle of one registered subscription operation.
type Subscription struct {
	id string
	op *operation.Operation
	t  *Transport

	out    chan Event
	signal chan struct{}
	quit   chan struct{}

	mu    sync.Mutex
	queue []Event
	ended bool

	cancelOnce sync.Once
}

func newSubscription(t *Transport, op *operation.Operation) *Subscription {
	return &Subscription{
		id:     uuid.NewString(),
		op:     op,
		t:      t,
		out:    make(chan Event),
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

// ID returns the locally generated subscription id used on the wire.
func (s *Subscription) ID() string { return s.id }

// Operation returns the subscribed operation.
func (s *Subscription) Operation() *operation.Operation { return s.op }

// Events returns the delivery channel. It is closed after the last event,
// when the server completes the subscription, or on Cancel.
func (s *Subscription) Events() <-chan Event { return s.out }

// Cancel deregisters the subscription and stops further delivery. Pending
// undelivered events are discarded. Safe to call repeatedly and after the
// transport is closed.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.queue = nil
		s.mu.Unlock()
		close(s.quit)
		s.t.remove(s.id)
	})
}

// push queues an envelope. Returns false if the subscription has ended.
func (s *Subscription) push(env *types.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.queue = append(s.queue, Event{Envelope: env})
	s.notify()
	return true
}

// end queues an optional terminal error and marks the subscription ended.
// The pump closes the channel once the queue drains.
func (s *Subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if err != nil {
		s.queue = append(s.queue, Event{Err: err})
	}
	s.ended = true
	s.notify()
}

func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.signal:
			case <-s.quit:
				return
			}
			continue
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}
