package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/chatlink/auth"
	"github.com/pithecene-io/chatlink/metrics"
	"github.com/pithecene-io/chatlink/operation"
	"github.com/pithecene-io/chatlink/transport"
	"github.com/pithecene-io/chatlink/transport/stream"
	"github.com/pithecene-io/chatlink/types"
)

type fakeRequest struct {
	mu     sync.Mutex
	ops    []*operation.Operation
	env    *types.Envelope
	err    error
	closed int
}

func (f *fakeRequest) Send(_ context.Context, op *operation.Operation) (*types.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	if f.err != nil {
		return nil, f.err
	}
	if f.env != nil {
		return f.env, nil
	}
	return &types.Envelope{Data: json.RawMessage(`{}`)}, nil
}

func (f *fakeRequest) Close() error {
	f.closed++
	return nil
}

type fakeStream struct {
	mu     sync.Mutex
	ops    []*operation.Operation
	closed int
}

func (f *fakeStream) Subscribe(_ context.Context, op *operation.Operation) (*stream.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return nil, nil
}

func (f *fakeStream) Close() error {
	f.closed++
	return nil
}

func newTestClient(t *testing.T, token string) (*Client, *fakeRequest, *fakeStream) {
	t.Helper()
	req, st := &fakeRequest{}, &fakeStream{}
	c, err := New(Config{
		Tokens:           auth.NewMemoryProvider(token),
		RequestTransport: req,
		StreamTransport:  st,
		Metrics:          metrics.NewCollector("test", "", ""),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, req, st
}

func TestRouteForKind(t *testing.T) {
	tests := []struct {
		kind types.OperationKind
		want Route
	}{
		{types.KindQuery, RouteRequest},
		{types.KindMutation, RouteRequest},
		{types.KindSubscription, RouteStream},
	}
	for _, tt := range tests {
		if got := RouteForKind(tt.kind); got != tt.want {
			t.Errorf("RouteForKind(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestExecute_RoutesByKind(t *testing.T) {
	c, req, st := newTestClient(t, "")

	docs := []string{
		`{ messages { id } }`,
		`mutation { addMessage(input: {text: "x"}) { id } }`,
		`subscription { messageAdded { id } }`,
	}
	for _, doc := range docs {
		op, err := c.Operation(doc, nil)
		if err != nil {
			t.Fatalf("operation: %v", err)
		}
		if _, err := c.Execute(t.Context(), op); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}

	if len(req.ops) != 2 {
		t.Errorf("request ops = %d, want 2", len(req.ops))
	}
	if len(st.ops) != 1 {
		t.Errorf("stream ops = %d, want 1", len(st.ops))
	}
	for _, op := range req.ops {
		if op.Kind() == types.KindSubscription {
			t.Error("subscription reached the request transport")
		}
	}
	if st.ops[0].Kind() != types.KindSubscription {
		t.Errorf("stream got %s", st.ops[0].Kind())
	}

	snap := c.Metrics().Snapshot()
	if snap.OperationsByKind["query"] != 1 || snap.OperationsByKind["subscription"] != 1 {
		t.Errorf("OperationsByKind = %v", snap.OperationsByKind)
	}
}

func TestExecute_DecoratesWithToken(t *testing.T) {
	c, req, _ := newTestClient(t, "tok")

	if _, err := c.Query(t.Context(), `{ messages { id } }`, nil); err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := req.ops[0].Header(auth.HeaderAuthorization); got != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", got)
	}
}

func TestExecute_NoTokenNoHeader(t *testing.T) {
	c, req, _ := newTestClient(t, "")

	if _, err := c.Mutate(t.Context(), `mutation { addMessage(input: {text: "x"}) { id } }`, nil); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got := req.ops[0].Header(auth.HeaderAuthorization); got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}

func TestExecute_MalformedFailsBeforeNetwork(t *testing.T) {
	c, req, st := newTestClient(t, "")

	_, err := c.Query(t.Context(), `{ messages { id `, nil)
	if !errors.Is(err, operation.ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument, got %v", err)
	}
	if len(req.ops)+len(st.ops) != 0 {
		t.Error("malformed document reached a transport")
	}
}

func TestExecute_ApplicationErrorsAreData(t *testing.T) {
	c, req, _ := newTestClient(t, "")
	req.env = &types.Envelope{
		Data:   json.RawMessage(`null`),
		Errors: []types.GraphQLError{{Message: "Unauthorized"}},
	}

	env, err := c.Mutate(t.Context(), `mutation { addMessage(input: {text: "hey"}) { id } }`, nil)
	if err != nil {
		t.Fatalf("application error returned as error: %v", err)
	}
	if env.Err().Error() != "Unauthorized" {
		t.Errorf("errors = %v", env.Errors)
	}
}

func TestExecute_TransportErrorPassesThrough(t *testing.T) {
	c, req, _ := newTestClient(t, "")
	req.err = transport.Wrap("send", errors.New("connection refused"))

	_, err := c.Query(t.Context(), `{ messages { id } }`, nil)
	if !transport.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestHelpers_RejectWrongKind(t *testing.T) {
	c, req, st := newTestClient(t, "")

	if _, err := c.Query(t.Context(), `subscription { messageAdded { id } }`, nil); err == nil {
		t.Error("Query accepted a subscription")
	}
	if _, err := c.Subscribe(t.Context(), `{ messages { id } }`, nil); err == nil {
		t.Error("Subscribe accepted a query")
	}
	if len(req.ops)+len(st.ops) != 0 {
		t.Error("rejected operation reached a transport")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c, req, st := newTestClient(t, "")

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if req.closed != 1 || st.closed != 1 {
		t.Errorf("closed request=%d stream=%d, want 1 each", req.closed, st.closed)
	}

	op, err := operation.New(`{ messages { id } }`, nil)
	if err != nil {
		t.Fatalf("operation: %v", err)
	}
	if _, err := c.Execute(t.Context(), op); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close = %v, want ErrClosed", err)
	}
}

// blockingRequest holds Send until release is closed.
type blockingRequest struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRequest) Send(context.Context, *operation.Operation) (*types.Envelope, error) {
	close(b.entered)
	<-b.release
	return &types.Envelope{Data: json.RawMessage(`{}`)}, nil
}

func (b *blockingRequest) Close() error { return nil }

func TestClose_DoesNotWaitForInFlightRequest(t *testing.T) {
	req := &blockingRequest{entered: make(chan struct{}), release: make(chan struct{})}
	c, err := New(Config{RequestTransport: req, StreamTransport: &fakeStream{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer close(req.release)

	go func() { _, _ = c.Query(context.Background(), `{ messages { id } }`, nil) }()
	select {
	case <-req.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the transport")
	}

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an in-flight request")
	}
}

func TestNew_DefaultTransportsRequireURLs(t *testing.T) {
	if _, err := New(Config{WSURL: "ws://localhost/graphql"}); err == nil {
		t.Error("expected error without HTTP URL")
	}
	if _, err := New(Config{HTTPURL: "http://localhost/graphql"}); err == nil {
		t.Error("expected error without WS URL")
	}
}
