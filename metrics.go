package chatsync

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments a coordinator. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	actions     *prometheus.CounterVec
	sends       *prometheus.CounterVec
	reconnects  prometheus.Counter
	connected   prometheus.Gauge
	unread      prometheus.Gauge
	applyTiming prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "actions_total",
			Help:      "Actions applied by the coordinator, by kind.",
		}, []string{"kind"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Message sends by outcome (confirmed, reconciled, failed).",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "transport_reconnects_total",
			Help:      "Realtime reconnect attempts.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "transport_connected",
			Help:      "1 while the realtime connection is open.",
		}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "unread_messages",
			Help:      "Total unread messages across conversations.",
		}),
		applyTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatsync",
			Name:      "apply_seconds",
			Help:      "Time spent reducing one action.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.actions, m.sends, m.reconnects, m.connected, m.unread, m.applyTiming} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// observe records one applied action and the state it produced.
func (m *Metrics) observe(a Action, s *State, seconds float64) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(a.Kind()).Inc()
	m.applyTiming.Observe(seconds)
	m.unread.Set(float64(s.TotalUnread))

	switch a.(type) {
	case MessageConfirmed:
		m.sends.WithLabelValues("confirmed").Inc()
	case MessageFailed:
		m.sends.WithLabelValues("failed").Inc()
	case TransportReconnecting:
		m.reconnects.Inc()
	case TransportConnected:
		m.connected.Set(1)
	case TransportDisconnected:
		m.connected.Set(0)
	}
}

// reconciled counts a send confirmed by a realtime push before its response.
func (m *Metrics) reconciled() {
	if m == nil {
		return
	}
	m.sends.WithLabelValues("reconciled").Inc()
}
