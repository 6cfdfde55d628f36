package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports session counters. A nil *Metrics records nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	reconnects prometheus.Counter
	state      *prometheus.GaugeVec
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodepanel",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Events delivered to the sink, by kind.",
		}, []string{"kind"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nodepanel",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Reconnects scheduled after a disconnect.",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nodepanel",
			Subsystem: "stream",
			Name:      "state",
			Help:      "1 for the current lifecycle state, 0 otherwise.",
		}, []string{"state"}),
	}
}

func (m *Metrics) event(ev Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(ev.Kind)).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) setState(st State) {
	if m == nil {
		return
	}
	for _, s := range []State{StateIdle, StateConnecting, StateConnected, StateDisconnected} {
		v := 0.0
		if s == st {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}
