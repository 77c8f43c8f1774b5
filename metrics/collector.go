// Package metrics provides per-client metrics collection.
//
// The Collector accumulates counters for the lifetime of one client
// instance. It is a leaf package: callers pass plain strings for operation
// kinds so that transports and the feed can record without import cycles.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all client metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Operations
	OperationsByKind  map[string]int64
	TransportErrors   int64
	ApplicationErrors int64

	// Stream transport
	ConnectAttempts      int64
	Connects             int64
	Reconnects           int64
	ConnectTimeouts      int64
	SubscriptionsStarted int64
	SubscriptionsStopped int64
	PushesDelivered      int64
	PushesDropped        int64

	// Cache and feed
	CacheWrites      int64
	CacheMerges      int64
	MessagesAppended int64

	// Relay
	RelaySuccess int64
	RelayFailure int64

	// Dimensions (informational, set at construction)
	ClientID     string
	HTTPEndpoint string
	WSEndpoint   string
}

// Collector accumulates metrics for one client.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe,
// so components may hold a nil *Collector when metrics are not wanted.
type Collector struct {
	mu sync.Mutex

	operationsByKind  map[string]int64
	transportErrors   int64
	applicationErrors int64

	connectAttempts      int64
	connects             int64
	reconnects           int64
	connectTimeouts      int64
	subscriptionsStarted int64
	subscriptionsStopped int64
	pushesDelivered      int64
	pushesDropped        int64

	cacheWrites      int64
	cacheMerges      int64
	messagesAppended int64

	relaySuccess int64
	relayFailure int64

	clientID     string
	httpEndpoint string
	wsEndpoint   string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(clientID, httpEndpoint, wsEndpoint string) *Collector {
	return &Collector{
		operationsByKind: make(map[string]int64),
		clientID:         clientID,
		httpEndpoint:     httpEndpoint,
		wsEndpoint:       wsEndpoint,
	}
}

func (c *Collector) inc(field *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Operations ---

// IncOperation records an operation routed to a transport.
func (c *Collector) IncOperation(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.operationsByKind[kind]++
	c.mu.Unlock()
}

// IncTransportError records a transport-level failure (network, timeout,
// malformed response).
func (c *Collector) IncTransportError() {
	if c == nil {
		return
	}
	c.inc(&c.transportErrors)
}

// IncApplicationError records an envelope that carried GraphQL errors.
func (c *Collector) IncApplicationError() {
	if c == nil {
		return
	}
	c.inc(&c.applicationErrors)
}

// --- Stream transport ---

// IncConnectAttempt records a dial attempt, initial or reconnect.
func (c *Collector) IncConnectAttempt() {
	if c == nil {
		return
	}
	c.inc(&c.connectAttempts)
}

// IncConnect records a completed handshake (connection_ack received).
func (c *Collector) IncConnect() {
	if c == nil {
		return
	}
	c.inc(&c.connects)
}

// IncReconnect records a transition into the reconnecting state.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.inc(&c.reconnects)
}

// IncConnectTimeout records a handshake that did not complete in time.
func (c *Collector) IncConnectTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.connectTimeouts)
}

// IncSubscriptionStarted records a start frame sent on the wire.
// Re-issued starts after a reconnect count again.
func (c *Collector) IncSubscriptionStarted() {
	if c == nil {
		return
	}
	c.inc(&c.subscriptionsStarted)
}

// IncSubscriptionStopped records a deregistered subscription.
func (c *Collector) IncSubscriptionStopped() {
	if c == nil {
		return
	}
	c.inc(&c.subscriptionsStopped)
}

// IncPushDelivered records a push dispatched to a live subscription.
func (c *Collector) IncPushDelivered() {
	if c == nil {
		return
	}
	c.inc(&c.pushesDelivered)
}

// IncPushDropped records a push for an unknown subscription id.
func (c *Collector) IncPushDropped() {
	if c == nil {
		return
	}
	c.inc(&c.pushesDropped)
}

// --- Cache and feed ---

// IncCacheWrite records a whole-query or entity write.
func (c *Collector) IncCacheWrite() {
	if c == nil {
		return
	}
	c.inc(&c.cacheWrites)
}

// IncCacheMerge records a merge into a cached query.
func (c *Collector) IncCacheMerge() {
	if c == nil {
		return
	}
	c.inc(&c.cacheMerges)
}

// IncMessageAppended records a pushed message appended to the feed.
func (c *Collector) IncMessageAppended() {
	if c == nil {
		return
	}
	c.inc(&c.messagesAppended)
}

// --- Relay ---

// IncRelaySuccess records a message relayed downstream.
func (c *Collector) IncRelaySuccess() {
	if c == nil {
		return
	}
	c.inc(&c.relaySuccess)
}

// IncRelayFailure records a relay publish that failed after retries.
func (c *Collector) IncRelayFailure() {
	if c == nil {
		return
	}
	c.inc(&c.relayFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.operationsByKind))
	for k, v := range c.operationsByKind {
		byKind[k] = v
	}

	return Snapshot{
		OperationsByKind:  byKind,
		TransportErrors:   c.transportErrors,
		ApplicationErrors: c.applicationErrors,

		ConnectAttempts:      c.connectAttempts,
		Connects:             c.connects,
		Reconnects:           c.reconnects,
		ConnectTimeouts:      c.connectTimeouts,
		SubscriptionsStarted: c.subscriptionsStarted,
		SubscriptionsStopped: c.subscriptionsStopped,
		PushesDelivered:      c.pushesDelivered,
		PushesDropped:        c.pushesDropped,

		CacheWrites:      c.cacheWrites,
		CacheMerges:      c.cacheMerges,
		MessagesAppended: c.messagesAppended,

		RelaySuccess: c.relaySuccess,
		RelayFailure: c.relayFailure,

		ClientID:     c.clientID,
		HTTPEndpoint: c.httpEndpoint,
		WSEndpoint:   c.wsEndpoint,
	}
}
