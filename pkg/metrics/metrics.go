// Package metrics defines the Prometheus instrumentation exposed at
// /metrics: counters for the onion router, swarm store, rate limiter, and
// replay cache.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ghostnodes"

// Metrics holds every collector a node registers. Callers increment/observe
// through the exported fields rather than re-deriving label sets.
type Metrics struct {
	PacketsProcessed  *prometheus.CounterVec
	PacketsForwarded  prometheus.Counter
	PacketsDelivered  prometheus.Counter
	PacketsRejected   *prometheus.CounterVec
	ReplayHits        prometheus.Counter
	MessagesStored    prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesExpired   prometheus.Counter
	ReplicationAcks   *prometheus.HistogramVec
	RateLimitRejected prometheus.Counter
	PoWRejected       prometheus.Counter
	ActiveSwarmNodes  prometheus.Gauge
}

// New constructs a Metrics set. Registerer is typically
// prometheus.DefaultRegisterer; tests can pass a fresh prometheus.Registry
// to avoid collisions between parallel test registrations.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onion",
			Name:      "packets_processed_total",
			Help:      "Onion packets processed, labeled by outcome action.",
		}, []string{"action"}),
		PacketsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onion",
			Name:      "packets_forwarded_total",
			Help:      "Onion packets unwrapped and forwarded to the next hop.",
		}),
		PacketsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onion",
			Name:      "packets_delivered_total",
			Help:      "Onion packets reaching their final hop.",
		}),
		PacketsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onion",
			Name:      "packets_rejected_total",
			Help:      "Onion packets rejected, labeled by error kind.",
		}, []string{"kind"}),
		ReplayHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onion",
			Name:      "replay_hits_total",
			Help:      "Packets rejected as replays of an already-seen header HMAC.",
		}),
		MessagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "messages_stored_total",
			Help:      "Messages accepted into local storage.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "messages_delivered_total",
			Help:      "Messages returned to a retrieving client.",
		}),
		MessagesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "messages_expired_total",
			Help:      "Messages garbage-collected after their TTL passed.",
		}),
		ReplicationAcks: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "replication_acks",
			Help:      "Number of replica acknowledgements received before the quorum deadline.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		}, []string{"outcome"}),
		RateLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the per-IP token bucket.",
		}),
		PoWRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "rejected_total",
			Help:      "Direct swarm stores rejected for insufficient proof of work.",
		}),
		ActiveSwarmNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "healthy_nodes",
			Help:      "Number of nodes currently marked healthy in the directory service.",
		}),
	}

	reg.MustRegister(
		m.PacketsProcessed,
		m.PacketsForwarded,
		m.PacketsDelivered,
		m.PacketsRejected,
		m.ReplayHits,
		m.MessagesStored,
		m.MessagesDelivered,
		m.MessagesExpired,
		m.ReplicationAcks,
		m.RateLimitRejected,
		m.PoWRejected,
		m.ActiveSwarmNodes,
	)

	return m
}
