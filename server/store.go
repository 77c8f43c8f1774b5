package server

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pithecene-io/chatlink/types"
)

// subscriberBuffer is the per-subscriber backlog before messages are
// dropped for that subscriber.
const subscriberBuffer = 64

// Store holds messages in memory and fans new ones out to subscribers.
type Store struct {
	mu       sync.Mutex
	messages []types.Message
	nextID   int
	subs     map[uint64]chan types.Message
	nextSub  uint64
	dropped  int64
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		subs: make(map[uint64]chan types.Message),
		now:  time.Now,
	}
}

// List returns all messages in insertion order.
func (s *Store) List() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Add appends a message and publishes it to every subscriber.
func (s *Store) Add(user, text string) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m := types.Message{
		ID:        strconv.Itoa(s.nextID),
		Text:      text,
		User:      user,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
	s.messages = append(s.messages, m)
	for _, ch := range s.subs {
		select {
		case ch <- m:
		default:
			s.dropped++
		}
	}
	return m
}

// Seed appends messages without publishing them, keeping their ids.
func (s *Store) Seed(msgs ...types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.messages = append(s.messages, m)
		if n, err := strconv.Atoi(m.ID); err == nil && n > s.nextID {
			s.nextID = n
		}
	}
}

// Subscribe returns a channel of messages added after the call. The
// channel is closed when ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan types.Message {
	ch := make(chan types.Message, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Subscribers returns the number of live subscribers.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
