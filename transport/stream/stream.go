// Package stream implements the persistent subscription transport over a
// graphql-ws WebSocket.
//
// The transport is lazy: no connection exists until the first Subscribe.
// All subscriptions share one connection and are demultiplexed by id.
// When the connection drops, registrations are kept and re-issued in
// registration order once the reconnect handshake is acknowledged. When
// the last subscription is cancelled the connection is terminated and the
// transport returns to StateClosed, ready to reopen on demand.
//
// State is owned by a single loop goroutine. Public methods talk to it
// over channels, and events reach consumers through a per-subscription
// FIFO pump so a slow consumer never stalls the loop.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/pithecene-io/chatlink/log"
	"github.com/pithecene-io/chatlink/metrics"
	"github.com/pithecene-io/chatlink/operation"
	"github.com/pithecene-io/chatlink/types"
)

// Default timings.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
)

// Default reconnect policy: exponential backoff from 500ms doubling up to
// 30s between attempts, 20% jitter, retried forever.
const (
	DefaultInitialInterval     = 500 * time.Millisecond
	DefaultMaxInterval         = 30 * time.Second
	DefaultMultiplier          = 2.0
	DefaultRandomizationFactor = 0.2
)

var (
	// ErrClosed is returned by Subscribe after Close, and delivered to
	// every live subscription when the transport is closed.
	ErrClosed = errors.New("stream: transport closed")
	// ErrReconnectExhausted is delivered to every subscription when the
	// reconnect policy gives up.
	ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")
)

// State is the connection state of a transport.
type State int32

const (
	// StateClosed means no connection and no pending reconnect.
	StateClosed State = iota
	// StateConnecting means the first handshake is in progress.
	StateConnecting
	// StateOpen means the handshake was acknowledged.
	StateOpen
	// StateReconnecting means the connection was lost and a new one is
	// being established.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ReconnectPolicy configures the exponential reconnect backoff.
// Zero fields take the package defaults. MaxElapsedTime 0 retries forever.
type ReconnectPolicy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxElapsedTime      time.Duration
}

func (p ReconnectPolicy) backoff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      p.MaxElapsedTime,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultInitialInterval
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxInterval
	}
	if b.Multiplier <= 0 {
		b.Multiplier = DefaultMultiplier
	}
	if b.RandomizationFactor <= 0 {
		b.RandomizationFactor = DefaultRandomizationFactor
	}
	b.Reset()
	return b
}

// Config configures a stream transport.
type Config struct {
	// URL is the WebSocket endpoint (required).
	URL string
	// ConnectionParams builds the connection_init payload. It is called
	// once per connection attempt. Nil sends an empty object.
	ConnectionParams func() map[string]any
	// Header is sent with the upgrade request.
	Header http.Header
	// ConnectTimeout bounds dial plus handshake acknowledgement.
	ConnectTimeout time.Duration
	// KeepAliveTimeout drops the connection when no frame arrives for this
	// long. Zero disables the check.
	KeepAliveTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// Reconnect is the reconnect policy.
	Reconnect ReconnectPolicy
	// Dialer overrides the WebSocket dialer.
	Dialer *websocket.Dialer
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
	// OnStateChange is called from the loop goroutine on every transition.
	// It must not block or call back into the transport.
	OnStateChange func(State)
}

// Transport is a lazily connected, auto-reconnecting subscription
// transport. It is safe for concurrent use.
type Transport struct {
	config  Config
	dialer  *websocket.Dialer
	logger  *log.Logger
	metrics *metrics.Collector

	cmds   chan command
	events chan connEvent
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	state     atomic.Int32
}

// New creates a stream transport. No connection is opened until the first
// Subscribe.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream transport requires a URL")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		}
	}
	d := *dialer
	d.Subprotocols = []string{types.Subprotocol}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	t := &Transport{
		config:  cfg,
		dialer:  &d,
		logger:  logger.Named("stream"),
		metrics: cfg.Metrics,
		cmds:    make(chan command),
		events:  make(chan connEvent),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go newMachine(t).run()
	return t, nil
}

// State returns the current connection state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Subscribe registers op and returns its handle. The first subscription
// opens the connection; later ones multiplex onto it. Returns ErrClosed
// after Close.
func (t *Transport) Subscribe(ctx context.Context, op *operation.Operation) (*Subscription, error) {
	if op.Kind() != types.KindSubscription {
		return nil, fmt.Errorf("stream: cannot stream a %s operation", op.Kind())
	}
	select {
	case <-t.quit:
		return nil, ErrClosed
	default:
	}

	sub := newSubscription(t, op)
	req := subscribeCmd{sub: sub, reply: make(chan error, 1)}
	select {
	case t.cmds <- req:
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := <-req.reply; err != nil {
		return nil, err
	}
	go sub.pump()
	return sub, nil
}

// remove deregisters a subscription. It is a no-op once the loop exited.
func (t *Transport) remove(id string) {
	select {
	case t.cmds <- cancelCmd{id: id}:
	case <-t.done:
	}
}

// emit hands a connection event to the loop. Returns false once the loop
// exited.
func (t *Transport) emit(ev connEvent) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}

// Close terminates the connection, ends every subscription with ErrClosed
// and moves the transport to StateClosed permanently. It is idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.quit) })
	<-t.done
	return nil
}
