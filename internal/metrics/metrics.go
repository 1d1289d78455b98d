// Package metrics defines the optional Prometheus instrumentation wired
// into the reactor: it takes a *Metrics, and a nil-safe no-op default
// means instrumentation never has to be threaded through test helpers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "constellation"

// Metrics holds the counters and gauges exported by a single process's
// runtime. A nil *Metrics is valid and every method on it is a no-op.
type Metrics struct {
	PeerBytesSent     *prometheus.CounterVec
	PeerBytesReceived *prometheus.CounterVec
	PeersConnected    prometheus.Gauge
	SpawnTotal        prometheus.Counter
	ChannelsActive    prometheus.Gauge
}

// New registers and returns a Metrics bound to reg; a nil reg leaves the
// collectors unregistered. Passing a fresh prometheus.NewRegistry() keeps
// test processes from colliding on the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PeerBytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "peer_bytes_sent_total",
			Help:      "Bytes sent to each remote peer.",
		}, []string{"remote"}),
		PeerBytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "peer_bytes_received_total",
			Help:      "Bytes received from each remote peer.",
		}, []string{"remote"}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "peers_connected",
			Help:      "Number of peers currently in the Connected state.",
		}),
		SpawnTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spawn",
			Name:      "total",
			Help:      "Number of processes spawned by this process.",
		}),
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "active",
			Help:      "Number of live Sender/Receiver endpoints.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PeerBytesSent, m.PeerBytesReceived, m.PeersConnected, m.SpawnTotal, m.ChannelsActive)
	}
	return m
}

func (m *Metrics) addPeerBytesSent(remote string, n int) {
	if m == nil {
		return
	}
	m.PeerBytesSent.WithLabelValues(remote).Add(float64(n))
}

func (m *Metrics) addPeerBytesReceived(remote string, n int) {
	if m == nil {
		return
	}
	m.PeerBytesReceived.WithLabelValues(remote).Add(float64(n))
}

// ObserveSend records n bytes sent to remote.
func (m *Metrics) ObserveSend(remote string, n int) { m.addPeerBytesSent(remote, n) }

// ObserveRecv records n bytes received from remote.
func (m *Metrics) ObserveRecv(remote string, n int) { m.addPeerBytesReceived(remote, n) }

// SetPeersConnected sets the connected-peer gauge.
func (m *Metrics) SetPeersConnected(n int) {
	if m == nil {
		return
	}
	m.PeersConnected.Set(float64(n))
}

// IncSpawn increments the spawn counter.
func (m *Metrics) IncSpawn() {
	if m == nil {
		return
	}
	m.SpawnTotal.Inc()
}

// SetChannelsActive sets the active-channel gauge.
func (m *Metrics) SetChannelsActive(n int) {
	if m == nil {
		return
	}
	m.ChannelsActive.Set(float64(n))
}
