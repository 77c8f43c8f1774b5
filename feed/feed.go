// Package feed implements the chat feed: one messages query, one
// messageAdded subscription merged into the cached list, and the
// addMessage mutation.
//
// Render order is first-observed order: the initial query result, then
// pushes in arrival order. Messages are never re-sorted by timestamp.
//
// The stream transport is trusted to deliver each push once; the append
// rule itself has no dedup key. A push whose id is already listed is still
// skipped, since the normalized cache stores one entity per id and a second
// reference would only render the same message twice.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/chatlink/adapter"
	"github.com/pithecene-io/chatlink/cache"
	"github.com/pithecene-io/chatlink/log"
	"github.com/pithecene-io/chatlink/metrics"
	"github.com/pithecene-io/chatlink/transport/stream"
	"github.com/pithecene-io/chatlink/types"
)

// Documents used by the feed.
const (
	MessagesQuery = `query Messages {
  messages { __typename id text user timestamp }
}`
	MessageAddedSubscription = `subscription MessageAdded {
  messageAdded { __typename id text user timestamp }
}`
	AddMessageMutation = `mutation AddMessage($input: MessageInput!) {
  addMessage(input: $input) { __typename id text user timestamp }
}`
)

// Field names of the documents above.
const (
	fieldMessages     = "messages"
	fieldMessageAdded = "messageAdded"
	fieldAddMessage   = "addMessage"
)

// DefaultRelayTimeout bounds a single relay publish.
const DefaultRelayTimeout = 10 * time.Second

var (
	// ErrStarted is returned by Start on a feed that was already started.
	ErrStarted = errors.New("feed: already started")
	// ErrStopped is returned by Start and Send after Stop.
	ErrStopped = errors.New("feed: stopped")
)

// Client is the subset of client.Client used by the feed.
type Client interface {
	ID() string
	Query(ctx context.Context, document string, variables map[string]any) (*types.Envelope, error)
	Mutate(ctx context.Context, document string, variables map[string]any) (*types.Envelope, error)
	Subscribe(ctx context.Context, document string, variables map[string]any) (*stream.Subscription, error)
}

// Recorder receives every pushed envelope, e.g. a transcript.Writer.
type Recorder interface {
	Record(subscriptionID, operation string, env *types.Envelope) error
}

// Options configures a Feed. All fields are optional.
type Options struct {
	Logger   *log.Logger
	Metrics  *metrics.Collector
	Relay    adapter.Adapter
	Recorder Recorder
	// RelayTimeout bounds each relay publish (default 10s).
	RelayTimeout time.Duration
	// UpdateBuffer is the capacity of the Updates channel (default 64).
	UpdateBuffer int
}

// Update is a snapshot of the feed after a change, or a delivery error.
type Update struct {
	Messages []types.Message
	Err      error
}

// Feed is the chat feed controller.
type Feed struct {
	client  Client
	cache   *cache.Cache
	key     cache.QueryKey
	opts    Options
	logger  *log.Logger
	metrics *metrics.Collector
	updates chan Update

	mu      sync.Mutex
	started bool
	stopped bool
	sub     *stream.Subscription
	done    chan struct{}
}

// New creates a feed over client and c.
func New(client Client, c *cache.Cache, opts Options) *Feed {
	if opts.RelayTimeout <= 0 {
		opts.RelayTimeout = DefaultRelayTimeout
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Feed{
		client:  client,
		cache:   c,
		key:     cache.QueryKey{Name: fieldMessages},
		opts:    opts,
		logger:  logger.Named("feed"),
		metrics: opts.Metrics,
		updates: make(chan Update, opts.UpdateBuffer),
	}
}

// Start runs the messages query, stores the result, and subscribes to
// messageAdded. Application errors in the query are returned as
// *types.ApplicationError.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return ErrStopped
	}
	if f.started {
		return ErrStarted
	}

	env, err := f.client.Query(ctx, MessagesQuery, nil)
	if err != nil {
		return fmt.Errorf("feed: messages query: %w", err)
	}
	if err := env.Err(); err != nil {
		return err
	}
	if err := f.cache.WriteQueryJSON(f.key, env.Data); err != nil {
		return fmt.Errorf("feed: %w", err)
	}

	sub, err := f.client.Subscribe(ctx, MessageAddedSubscription, nil)
	if err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	f.started = true
	f.sub = sub
	f.done = make(chan struct{})
	go f.consume(sub)

	msgs := f.Messages()
	f.logger.Info("feed started", map[string]any{
		"messages":        len(msgs),
		"subscription_id": sub.ID(),
	})
	f.publish(Update{Messages: msgs})
	return nil
}

// Messages returns the current list in render order.
func (f *Feed) Messages() []types.Message {
	data, ok := f.cache.ReadQuery(f.key)
	if !ok {
		return nil
	}
	var out []types.Message
	if err := cache.Decode(data[fieldMessages], &out); err != nil {
		f.logger.Warn("cached messages undecodable", map[string]any{"error": err.Error()})
		return nil
	}
	return out
}

// Updates returns the channel of feed snapshots. When the consumer falls
// behind, the oldest pending snapshot is discarded. The channel is closed
// by Stop.
func (f *Feed) Updates() <-chan Update {
	return f.updates
}

// Send runs the addMessage mutation. There is no optimistic update: the
// list changes only when the server pushes the message back. Application
// errors, including "Unauthorized", are returned as *types.ApplicationError
// and leave the cache untouched.
func (f *Feed) Send(ctx context.Context, text string) (types.Message, error) {
	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()
	if stopped {
		return types.Message{}, ErrStopped
	}

	env, err := f.client.Mutate(ctx, AddMessageMutation, map[string]any{
		"input": map[string]any{"text": text},
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("feed: addMessage: %w", err)
	}
	if err := env.Err(); err != nil {
		return types.Message{}, err
	}

	var data map[string]map[string]any
	if err := env.DecodeData(&data); err != nil {
		return types.Message{}, fmt.Errorf("feed: decode addMessage: %w", err)
	}
	fields := data[fieldAddMessage]
	if fields == nil {
		return types.Message{}, errors.New("feed: addMessage returned no message")
	}
	if key, ok := cache.Identify(fields); ok {
		f.cache.WriteEntity(key, fields)
	}

	var msg types.Message
	if err := cache.Decode(fields, &msg); err != nil {
		return types.Message{}, fmt.Errorf("feed: decode addMessage: %w", err)
	}
	return msg, nil
}

// Stop cancels the subscription, waits for the consumer goroutine and
// closes Updates. It is idempotent.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	sub, done := f.sub, f.done
	f.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		<-done
	}
	close(f.updates)
	f.logger.Debug("feed stopped", nil)
}

func (f *Feed) consume(sub *stream.Subscription) {
	defer close(f.done)
	for ev := range sub.Events() {
		if ev.Err != nil {
			f.logger.Error("subscription ended", map[string]any{"error": ev.Err.Error()})
			f.publish(Update{Messages: f.Messages(), Err: ev.Err})
			return
		}
		f.handlePush(sub, ev.Envelope)
	}
}

func (f *Feed) handlePush(sub *stream.Subscription, env *types.Envelope) {
	if f.opts.Recorder != nil {
		if err := f.opts.Recorder.Record(sub.ID(), sub.Operation().Name(), env); err != nil {
			f.logger.Warn("transcript write failed", map[string]any{"error": err.Error()})
		}
	}
	if err := env.Err(); err != nil {
		f.metrics.IncApplicationError()
		f.publish(Update{Messages: f.Messages(), Err: err})
		return
	}

	var data map[string]map[string]any
	if err := env.DecodeData(&data); err != nil || data[fieldMessageAdded] == nil {
		f.logger.Warn("push without messageAdded", map[string]any{"subscription_id": sub.ID()})
		return
	}
	added := data[fieldMessageAdded]

	appended := false
	f.cache.MergeIntoQuery(f.key, func(current map[string]any) map[string]any {
		if current == nil {
			current = map[string]any{}
		}
		list, _ := current[fieldMessages].([]any)
		if id, ok := added["id"]; ok && containsID(list, id) {
			current[fieldMessages] = list
			return current
		}
		current[fieldMessages] = append(list, added)
		appended = true
		return current
	})
	if !appended {
		f.logger.Debug("duplicate message ignored", map[string]any{"id": added["id"]})
		return
	}
	f.metrics.IncMessageAppended()

	var msg types.Message
	if err := cache.Decode(added, &msg); err == nil {
		f.relay(sub.ID(), msg)
	}
	f.publish(Update{Messages: f.Messages()})
}

func containsID(list []any, id any) bool {
	for _, item := range list {
		if m, ok := item.(map[string]any); ok && m["id"] == id {
			return true
		}
	}
	return false
}

func (f *Feed) relay(subscriptionID string, msg types.Message) {
	if f.opts.Relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.opts.RelayTimeout)
	defer cancel()

	event := adapter.NewMessageEvent(f.client.ID(), subscriptionID, msg, time.Now())
	if err := f.opts.Relay.Publish(ctx, event); err != nil {
		f.metrics.IncRelayFailure()
		f.logger.Warn("relay publish failed", map[string]any{
			"id":    msg.ID,
			"error": err.Error(),
		})
		return
	}
	f.metrics.IncRelaySuccess()
}

// publish delivers u without blocking, discarding the oldest pending
// update when the buffer is full.
func (f *Feed) publish(u Update) {
	for {
		select {
		case f.updates <- u:
			return
		default:
		}
		select {
		case <-f.updates:
		default:
		}
	}
}
