package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "stranga"

// Event names. They become values of the `event` label on
// stranga_events_total.
const (
	ClientConnected    = "client_connected"
	ClientDisconnected = "client_disconnected"
	MatchInterest      = "match_interest"
	MatchFallback      = "match_fallback"
	PoolEnqueued       = "pool_enqueued"
	PairDissolved      = "pair_dissolved"
	RelayForwarded     = "relay_forwarded"
	RelayDropped       = "relay_dropped"
	RateLimited        = "rate_limited"
	TooManyConnections = "too_many_connections"
	SendQueueFull      = "send_queue_full"
	BadMessage         = "bad_message"
	OriginRejected     = "origin_rejected"
)

// Metrics owns a private Prometheus registry. All methods are safe on a nil
// receiver so components can run without metrics wired in.
type Metrics struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	connections prometheus.Gauge
	waiting     prometheus.Gauge
	pairs       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Internal event counters.",
		}, []string{"event"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_clients",
			Help:      "Clients in the waiting pool.",
		}),
		pairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_pairs",
			Help:      "Currently paired client couples.",
		}),
	}
	m.reg.MustRegister(
		m.events,
		m.connections,
		m.waiting,
		m.pairs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Inc(event string) {
	m.Add(event, 1)
}

func (m *Metrics) Add(event string, n uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Add(float64(n))
}

// Get returns the current value of an event counter.
func (m *Metrics) Get(event string) uint64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.events.WithLabelValues(event).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// SetMatching records the pool and pair sizes after a matching mutation.
func (m *Metrics) SetMatching(waiting, pairs int) {
	if m == nil {
		return
	}
	m.waiting.Set(float64(waiting))
	m.pairs.Set(float64(pairs))
}

// Registry exposes the underlying registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}
