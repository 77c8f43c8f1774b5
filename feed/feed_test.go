package feed

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/chatlink/adapter"
	"github.com/pithecene-io/chatlink/auth"
	"github.com/pithecene-io/chatlink/cache"
	"github.com/pithecene-io/chatlink/client"
	"github.com/pithecene-io/chatlink/metrics"
	"github.com/pithecene-io/chatlink/server"
	"github.com/pithecene-io/chatlink/transcript"
	"github.com/pithecene-io/chatlink/transport/stream"
	"github.com/pithecene-io/chatlink/types"
)

type harness struct {
	srv     *server.Server
	client  *client.Client
	cache   *cache.Cache
	feed    *Feed
	metrics *metrics.Collector
}

// newHarness wires a feed to a dev server. user, when set, logs in as
// that user.
func newHarness(t *testing.T, user string, opts Options, seed ...types.Message) *harness {
	t.Helper()
	srv, err := server.New(server.Config{Secret: []byte("feed-test"), KeepAlive: -1})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	srv.Store().Seed(seed...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	token := ""
	if user != "" {
		if token, err = srv.IssueToken(user); err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
	}

	m := metrics.NewCollector("test", ts.URL, ts.URL)
	c, err := client.New(client.Config{
		ClientID: "test",
		HTTPURL:  ts.URL + "/graphql",
		WSURL:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/graphql",
		Tokens:   auth.NewMemoryProvider(token),
		Stream: stream.Config{
			Reconnect: stream.ReconnectPolicy{
				InitialInterval:     10 * time.Millisecond,
				MaxInterval:         50 * time.Millisecond,
				RandomizationFactor: 0.01,
			},
		},
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ch := cache.New(m)
	opts.Metrics = m
	f := New(c, ch, opts)
	t.Cleanup(f.Stop)
	return &harness{srv: srv, client: c, cache: ch, feed: f, metrics: m}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.feed.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "server subscriber", func() bool { return h.srv.Store().Subscribers() == 1 })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitUpdate reads updates until one carries n messages.
func waitUpdate(t *testing.T, f *Feed, n int) Update {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-f.Updates():
			if !ok {
				t.Fatal("updates closed")
			}
			if u.Err == nil && len(u.Messages) == n {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %d messages, have %d", n, len(f.Messages()))
		}
	}
}

func texts(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestFeed_InitialQuery(t *testing.T) {
	h := newHarness(t, "", Options{}, types.Message{ID: "1", Text: "hi", User: "a"})
	h.start(t)

	want := []types.Message{{ID: "1", Text: "hi", User: "a"}}
	if diff := cmp.Diff(want, h.feed.Messages()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if u := waitUpdate(t, h.feed, 1); u.Messages[0].Text != "hi" {
		t.Errorf("initial update = %+v", u)
	}
}

func TestFeed_PushAppendsInArrivalOrder(t *testing.T) {
	h := newHarness(t, "", Options{}, types.Message{ID: "1", Text: "hi", User: "a"})
	h.start(t)

	h.srv.Store().Add("b", "yo")
	h.srv.Store().Add("c", "sup")

	u := waitUpdate(t, h.feed, 3)
	if diff := cmp.Diff([]string{"hi", "yo", "sup"}, texts(u.Messages)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if got := h.metrics.Snapshot().MessagesAppended; got != 2 {
		t.Errorf("MessagesAppended = %d, want 2", got)
	}
}

func TestFeed_UnauthenticatedSend(t *testing.T) {
	h := newHarness(t, "", Options{}, types.Message{ID: "1", Text: "hi", User: "a"})
	h.start(t)
	before := h.feed.Messages()

	_, err := h.feed.Send(t.Context(), "x")
	var appErr *types.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("err = %v, want *types.ApplicationError", err)
	}
	if appErr.Error() != "Unauthorized" {
		t.Errorf("message = %q, want Unauthorized", appErr.Error())
	}
	if diff := cmp.Diff(before, h.feed.Messages()); diff != "" {
		t.Errorf("cache changed (-before +after):\n%s", diff)
	}
	if n := len(h.srv.Store().List()); n != 1 {
		t.Errorf("stored = %d, want 1", n)
	}
}

func TestFeed_SendAppearsOnlyThroughPush(t *testing.T) {
	h := newHarness(t, "alice", Options{})
	h.start(t)

	msg, err := h.feed.Send(t.Context(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.User != "alice" || msg.Text != "hello" || msg.ID == "" {
		t.Errorf("sent = %+v", msg)
	}
	if _, ok := h.cache.ReadEntity(cache.EntityKey{TypeName: "Message", ID: msg.ID}); !ok {
		t.Error("mutation result not normalized into the cache")
	}

	u := waitUpdate(t, h.feed, 1)
	if u.Messages[0].ID != msg.ID {
		t.Errorf("pushed = %+v, want id %s", u.Messages[0], msg.ID)
	}
}

func TestFeed_ReconnectResubscribesOnce(t *testing.T) {
	h := newHarness(t, "", Options{}, types.Message{ID: "1", Text: "hi", User: "a"})
	h.start(t)
	if got := h.srv.Starts(); got != 1 {
		t.Fatalf("starts = %d, want 1", got)
	}

	h.srv.DropConnections()
	waitFor(t, "resubscribe", func() bool {
		return h.srv.Starts() == 2 && h.srv.Store().Subscribers() == 1
	})

	h.srv.Store().Add("b", "after")
	u := waitUpdate(t, h.feed, 2)
	if diff := cmp.Diff([]string{"hi", "after"}, texts(u.Messages)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	time.Sleep(50 * time.Millisecond)
	if got := h.srv.Starts(); got != 2 {
		t.Errorf("starts = %d, want 2", got)
	}
	if got := len(h.feed.Messages()); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
	if got := h.metrics.Snapshot().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
}

type fakeRelay struct {
	mu     sync.Mutex
	events []*adapter.MessageEvent
	err    error
}

func (r *fakeRelay) Publish(_ context.Context, ev *adapter.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *fakeRelay) Close() error { return nil }

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestFeed_RelaysAppendedMessages(t *testing.T) {
	relay := &fakeRelay{}
	h := newHarness(t, "", Options{Relay: relay})
	h.start(t)

	h.srv.Store().Add("b", "yo")
	waitUpdate(t, h.feed, 1)
	waitFor(t, "relay", func() bool { return relay.count() == 1 })

	relay.mu.Lock()
	ev := relay.events[0]
	relay.mu.Unlock()
	if ev.EventType != adapter.EventTypeMessageAdded || ev.ClientID != "test" || ev.Message.Text != "yo" {
		t.Errorf("event = %+v", ev)
	}
	if got := h.metrics.Snapshot().RelaySuccess; got != 1 {
		t.Errorf("RelaySuccess = %d, want 1", got)
	}
}

func TestFeed_RelayFailureDoesNotBlockFeed(t *testing.T) {
	relay := &fakeRelay{err: errors.New("down")}
	h := newHarness(t, "", Options{Relay: relay})
	h.start(t)

	h.srv.Store().Add("b", "yo")
	waitUpdate(t, h.feed, 1)
	waitFor(t, "relay failure", func() bool { return h.metrics.Snapshot().RelayFailure == 1 })
}

func TestFeed_RecordsPushes(t *testing.T) {
	var buf bytes.Buffer
	w := transcript.NewWriter(&buf)
	h := newHarness(t, "", Options{Recorder: w})
	h.start(t)

	h.srv.Store().Add("b", "one")
	h.srv.Store().Add("b", "two")
	waitUpdate(t, h.feed, 2)
	h.feed.Stop()

	recs, err := transcript.ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].Operation != "MessageAdded" || recs[0].SubscriptionID == "" {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestFeed_Lifecycle(t *testing.T) {
	h := newHarness(t, "", Options{})
	h.start(t)

	if err := h.feed.Start(t.Context()); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start = %v, want ErrStarted", err)
	}

	h.feed.Stop()
	h.feed.Stop()
	waitFor(t, "server unsubscribe", func() bool { return h.srv.Store().Subscribers() == 0 })

	for range h.feed.Updates() {
	}
	if err := h.feed.Start(t.Context()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
	if _, err := h.feed.Send(t.Context(), "x"); !errors.Is(err, ErrStopped) {
		t.Errorf("Send after Stop = %v, want ErrStopped", err)
	}
}

func TestFeed_UpdatesDropOldest(t *testing.T) {
	f := &Feed{updates: make(chan Update, 2)}
	for i := range 5 {
		f.publish(Update{Messages: make([]types.Message, i)})
	}
	first := <-f.updates
	second := <-f.updates
	if len(first.Messages) != 3 || len(second.Messages) != 4 {
		t.Errorf("kept %d and %d, want 3 and 4", len(first.Messages), len(second.Messages))
	}
}

func TestContainsID(t *testing.T) {
	list := []any{
		map[string]any{"id": "1"},
		map[string]any{"id": "2"},
	}
	if !containsID(list, "2") {
		t.Error("expected id 2 to be found")
	}
	if containsID(list, "3") {
		t.Error("did not expect id 3")
	}
	if containsID(nil, "1") {
		t.Error("empty list contains nothing")
	}
}
