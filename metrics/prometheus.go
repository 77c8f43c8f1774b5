package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "chatlink"

var (
	operationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "operations_total"),
		"Operations routed to a transport, by kind.",
		[]string{"client_id", "kind"}, nil,
	)
	counterDescs = map[string]*prometheus.Desc{}
)

// counterNames lists the scalar counters exported in Collect, in order.
var counterNames = []struct {
	name string
	help string
	get  func(Snapshot) int64
}{
	{"transport_errors_total", "Transport-level failures.", func(s Snapshot) int64 { return s.TransportErrors }},
	{"application_errors_total", "Envelopes carrying GraphQL errors.", func(s Snapshot) int64 { return s.ApplicationErrors }},
	{"stream_connect_attempts_total", "Stream dial attempts.", func(s Snapshot) int64 { return s.ConnectAttempts }},
	{"stream_connects_total", "Stream handshakes completed.", func(s Snapshot) int64 { return s.Connects }},
	{"stream_reconnects_total", "Transitions into the reconnecting state.", func(s Snapshot) int64 { return s.Reconnects }},
	{"stream_connect_timeouts_total", "Handshakes that timed out.", func(s Snapshot) int64 { return s.ConnectTimeouts }},
	{"subscriptions_started_total", "Start frames sent.", func(s Snapshot) int64 { return s.SubscriptionsStarted }},
	{"subscriptions_stopped_total", "Subscriptions deregistered.", func(s Snapshot) int64 { return s.SubscriptionsStopped }},
	{"pushes_delivered_total", "Pushes dispatched to a subscription.", func(s Snapshot) int64 { return s.PushesDelivered }},
	{"pushes_dropped_total", "Pushes for unknown subscription ids.", func(s Snapshot) int64 { return s.PushesDropped }},
	{"cache_writes_total", "Cache writes.", func(s Snapshot) int64 { return s.CacheWrites }},
	{"cache_merges_total", "Cache merges.", func(s Snapshot) int64 { return s.CacheMerges }},
	{"messages_appended_total", "Pushed messages appended to the feed.", func(s Snapshot) int64 { return s.MessagesAppended }},
	{"relay_success_total", "Messages relayed downstream.", func(s Snapshot) int64 { return s.RelaySuccess }},
	{"relay_failure_total", "Relay publishes that failed.", func(s Snapshot) int64 { return s.RelayFailure }},
}

func init() {
	for _, cn := range counterNames {
		counterDescs[cn.name] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", cn.name),
			cn.help,
			[]string{"client_id"}, nil,
		)
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- operationsDesc
	for _, cn := range counterNames {
		ch <- counterDescs[cn.name]
	}
}

// Collect implements prometheus.Collector by exporting a fresh Snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	for kind, v := range s.OperationsByKind {
		ch <- prometheus.MustNewConstMetric(operationsDesc, prometheus.CounterValue, float64(v), s.ClientID, kind)
	}
	for _, cn := range counterNames {
		ch <- prometheus.MustNewConstMetric(counterDescs[cn.name], prometheus.CounterValue, float64(cn.get(s)), s.ClientID)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
