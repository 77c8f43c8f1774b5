package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("client-1", "http://localhost:9000/graphql", "ws://localhost:9000/graphql")

	c.IncOperation("query")
	c.IncOperation("mutation")
	c.IncOperation("mutation")
	c.IncOperation("subscription")
	c.IncTransportError()
	c.IncApplicationError()
	c.IncApplicationError()
	c.IncConnectAttempt()
	c.IncConnectAttempt()
	c.IncConnect()
	c.IncReconnect()
	c.IncConnectTimeout()
	c.IncSubscriptionStarted()
	c.IncSubscriptionStarted()
	c.IncSubscriptionStopped()
	c.IncPushDelivered()
	c.IncPushDelivered()
	c.IncPushDelivered()
	c.IncPushDropped()
	c.IncCacheWrite()
	c.IncCacheMerge()
	c.IncMessageAppended()
	c.IncRelaySuccess()
	c.IncRelayFailure()

	s := c.Snapshot()

	if s.OperationsByKind["query"] != 1 {
		t.Errorf("OperationsByKind[query] = %d, want 1", s.OperationsByKind["query"])
	}
	if s.OperationsByKind["mutation"] != 2 {
		t.Errorf("OperationsByKind[mutation] = %d, want 2", s.OperationsByKind["mutation"])
	}
	if s.OperationsByKind["subscription"] != 1 {
		t.Errorf("OperationsByKind[subscription] = %d, want 1", s.OperationsByKind["subscription"])
	}
	if s.TransportErrors != 1 {
		t.Errorf("TransportErrors = %d, want 1", s.TransportErrors)
	}
	if s.ApplicationErrors != 2 {
		t.Errorf("ApplicationErrors = %d, want 2", s.ApplicationErrors)
	}
	if s.ConnectAttempts != 2 {
		t.Errorf("ConnectAttempts = %d, want 2", s.ConnectAttempts)
	}
	if s.Connects != 1 {
		t.Errorf("Connects = %d, want 1", s.Connects)
	}
	if s.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", s.Reconnects)
	}
	if s.ConnectTimeouts != 1 {
		t.Errorf("ConnectTimeouts = %d, want 1", s.ConnectTimeouts)
	}
	if s.SubscriptionsStarted != 2 {
		t.Errorf("SubscriptionsStarted = %d, want 2", s.SubscriptionsStarted)
	}
	if s.SubscriptionsStopped != 1 {
		t.Errorf("SubscriptionsStopped = %d, want 1", s.SubscriptionsStopped)
	}
	if s.PushesDelivered != 3 {
		t.Errorf("PushesDelivered = %d, want 3", s.PushesDelivered)
	}
	if s.PushesDropped != 1 {
		t.Errorf("PushesDropped = %d, want 1", s.PushesDropped)
	}
	if s.CacheWrites != 1 || s.CacheMerges != 1 || s.MessagesAppended != 1 {
		t.Errorf("cache/feed counters = %d/%d/%d, want 1/1/1", s.CacheWrites, s.CacheMerges, s.MessagesAppended)
	}
	if s.RelaySuccess != 1 || s.RelayFailure != 1 {
		t.Errorf("relay counters = %d/%d, want 1/1", s.RelaySuccess, s.RelayFailure)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("client-1", "http://h/graphql", "ws://h/graphql")
	s := c.Snapshot()

	if s.ClientID != "client-1" {
		t.Errorf("ClientID = %q", s.ClientID)
	}
	if s.HTTPEndpoint != "http://h/graphql" {
		t.Errorf("HTTPEndpoint = %q", s.HTTPEndpoint)
	}
	if s.WSEndpoint != "ws://h/graphql" {
		t.Errorf("WSEndpoint = %q", s.WSEndpoint)
	}
}

func TestCollector_NilReceiver(t *testing.T) {
	var c *Collector

	// Must not panic
	c.IncOperation("query")
	c.IncTransportError()
	c.IncApplicationError()
	c.IncConnectAttempt()
	c.IncConnect()
	c.IncReconnect()
	c.IncConnectTimeout()
	c.IncSubscriptionStarted()
	c.IncSubscriptionStopped()
	c.IncPushDelivered()
	c.IncPushDropped()
	c.IncCacheWrite()
	c.IncCacheMerge()
	c.IncMessageAppended()
	c.IncRelaySuccess()
	c.IncRelayFailure()

	s := c.Snapshot()
	if s.PushesDelivered != 0 || s.OperationsByKind != nil {
		t.Errorf("nil collector snapshot should be zero, got %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("c", "", "")
	c.IncOperation("query")

	s := c.Snapshot()
	s.OperationsByKind["query"] = 99

	if got := c.Snapshot().OperationsByKind["query"]; got != 1 {
		t.Errorf("mutating snapshot leaked into collector: got %d", got)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("c", "", "")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncPushDelivered()
			c.IncOperation("query")
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.PushesDelivered != 50 {
		t.Errorf("PushesDelivered = %d, want 50", s.PushesDelivered)
	}
	if s.OperationsByKind["query"] != 50 {
		t.Errorf("OperationsByKind[query] = %d, want 50", s.OperationsByKind["query"])
	}
}

func TestCollector_Prometheus(t *testing.T) {
	c := NewCollector("client-1", "", "")
	c.IncOperation("query")
	c.IncPushDropped()
	c.IncPushDropped()

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	want := `
# HELP chatlink_pushes_dropped_total Pushes for unknown subscription ids.
# TYPE chatlink_pushes_dropped_total counter
chatlink_pushes_dropped_total{client_id="client-1"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "chatlink_pushes_dropped_total"); err != nil {
		t.Error(err)
	}

	if n := testutil.CollectAndCount(c, "chatlink_operations_total"); n != 1 {
		t.Errorf("operations series = %d, want 1", n)
	}
}
