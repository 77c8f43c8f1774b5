// Package client routes GraphQL operations to the request or stream
// transport.
//
// A Client is an explicit instance: construct it with New, pass it to every
// consumer, and shut it down with Close. Queries and mutations go over
// HTTP; subscriptions go over the shared WebSocket. The route is decided
// once from the operation kind and never changes mid-flight.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/chatlink/auth"
	"github.com/pithecene-io/chatlink/log"
	"github.com/pithecene-io/chatlink/metrics"
	"github.com/pithecene-io/chatlink/operation"
	"github.com/pithecene-io/chatlink/transport/request"
	"github.com/pithecene-io/chatlink/transport/stream"
	"github.com/pithecene-io/chatlink/types"
)

// ErrClosed is returned by Execute after Close.
var ErrClosed = errors.New("client: closed")

// RequestTransport sends one operation and awaits one envelope.
type RequestTransport interface {
	Send(ctx context.Context, op *operation.Operation) (*types.Envelope, error)
	Close() error
}

// StreamTransport registers subscription operations.
type StreamTransport interface {
	Subscribe(ctx context.Context, op *operation.Operation) (*stream.Subscription, error)
	Close() error
}

// Compile-time interface checks.
var (
	_ RequestTransport = (*request.Transport)(nil)
	_ StreamTransport  = (*stream.Transport)(nil)
)

// Config configures a Client.
type Config struct {
	// ClientID labels logs and metrics. Generated when empty.
	ClientID string
	// HTTPURL is the GraphQL HTTP endpoint.
	HTTPURL string
	// WSURL is the GraphQL WebSocket endpoint.
	WSURL string
	// Tokens supplies the access token. Nil means unauthenticated.
	Tokens auth.TokenProvider

	// Request and Stream tune the default transports. Their URL fields
	// are filled from HTTPURL and WSURL when empty.
	Request request.Config
	Stream  stream.Config

	// RequestTransport and StreamTransport replace the default transports.
	RequestTransport RequestTransport
	StreamTransport  StreamTransport

	// MaxDocuments bounds the classifier's parse cache.
	MaxDocuments int64

	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Result is the outcome of Execute: an envelope for request operations or
// a subscription handle for stream operations.
type Result struct {
	Envelope     *types.Envelope
	Subscription *stream.Subscription
}

// Client is the single entry point for executing operations.
type Client struct {
	id         string
	tokens     auth.TokenProvider
	classifier *operation.Classifier
	request    RequestTransport
	stream     StreamTransport
	logger     *log.Logger
	metrics    *metrics.Collector

	mu     sync.RWMutex
	closed bool
}

// New creates a client. No network connection is opened.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = auth.NewMemoryProvider("")
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = operation.DefaultMaxDocuments
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	classifier, err := operation.NewClassifier(cfg.MaxDocuments)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	reqT := cfg.RequestTransport
	if reqT == nil {
		rc := cfg.Request
		if rc.URL == "" {
			rc.URL = cfg.HTTPURL
		}
		rc.Logger, rc.Metrics = logger, cfg.Metrics
		t, err := request.New(rc)
		if err != nil {
			classifier.Close()
			return nil, fmt.Errorf("client: %w", err)
		}
		reqT = t
	}

	streamT := cfg.StreamTransport
	if streamT == nil {
		sc := cfg.Stream
		if sc.URL == "" {
			sc.URL = cfg.WSURL
		}
		if sc.ConnectionParams == nil {
			sc.ConnectionParams = auth.ConnectionParamsFunc(cfg.Tokens)
		}
		sc.Logger, sc.Metrics = logger, cfg.Metrics
		t, err := stream.New(sc)
		if err != nil {
			classifier.Close()
			_ = reqT.Close()
			return nil, fmt.Errorf("client: %w", err)
		}
		streamT = t
	}

	return &Client{
		id:         cfg.ClientID,
		tokens:     cfg.Tokens,
		classifier: classifier,
		request:    reqT,
		stream:     streamT,
		logger:     logger.Named("client"),
		metrics:    cfg.Metrics,
	}, nil
}

// ID returns the client instance id.
func (c *Client) ID() string { return c.id }

// Tokens returns the token provider.
func (c *Client) Tokens() auth.TokenProvider { return c.tokens }

// Metrics returns the collector, which may be nil.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Operation classifies document and returns an operation. Malformed
// documents fail with operation.ErrMalformedDocument.
func (c *Client) Operation(document string, variables map[string]any) (*operation.Operation, error) {
	return c.classifier.New(document, variables)
}

// Execute routes op to its transport. Request operations carry the bearer
// token as a header; stream operations authenticate through the
// connection params. Transport errors satisfy transport.IsTransportError;
// application errors are returned inside the envelope.
func (c *Client) Execute(ctx context.Context, op *operation.Operation) (*Result, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	route := RouteOf(op)
	op = auth.Decorate(op, c.tokens.AccessToken())
	c.metrics.IncOperation(string(op.Kind()))
	c.logger.Debug("executing operation", map[string]any{
		"kind":  string(op.Kind()),
		"name":  op.Name(),
		"route": route.String(),
	})

	switch route {
	case RouteStream:
		sub, err := c.stream.Subscribe(ctx, op)
		if err != nil {
			return nil, err
		}
		return &Result{Subscription: sub}, nil
	default:
		env, err := c.request.Send(ctx, op)
		if err != nil {
			return nil, err
		}
		return &Result{Envelope: env}, nil
	}
}

// Query executes a query document and returns its envelope.
func (c *Client) Query(ctx context.Context, document string, variables map[string]any) (*types.Envelope, error) {
	return c.sendKind(ctx, types.KindQuery, document, variables)
}

// Mutate executes a mutation document and returns its envelope.
func (c *Client) Mutate(ctx context.Context, document string, variables map[string]any) (*types.Envelope, error) {
	return c.sendKind(ctx, types.KindMutation, document, variables)
}

// Subscribe registers a subscription document.
func (c *Client) Subscribe(ctx context.Context, document string, variables map[string]any) (*stream.Subscription, error) {
	op, err := c.Operation(document, variables)
	if err != nil {
		return nil, err
	}
	if op.Kind() != types.KindSubscription {
		return nil, fmt.Errorf("client: expected subscription, got %s", op.Kind())
	}
	res, err := c.Execute(ctx, op)
	if err != nil {
		return nil, err
	}
	return res.Subscription, nil
}

func (c *Client) sendKind(ctx context.Context, kind types.OperationKind, document string, variables map[string]any) (*types.Envelope, error) {
	op, err := c.Operation(document, variables)
	if err != nil {
		return nil, err
	}
	if op.Kind() != kind {
		return nil, fmt.Errorf("client: expected %s, got %s", kind, op.Kind())
	}
	res, err := c.Execute(ctx, op)
	if err != nil {
		return nil, err
	}
	return res.Envelope, nil
}

// Close shuts down the stream transport, ending every subscription, and
// releases the request transport. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := errors.Join(c.stream.Close(), c.request.Close())
	c.classifier.Close()
	c.logger.Debug("client closed", nil)
	return err
}
