package feed

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the change feed collectors.
type Metrics struct {
	Published     *prometheus.CounterVec
	Delivered     *prometheus.CounterVec
	Subscriptions *prometheus.GaugeVec
}

// NewMetrics creates the feed collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomtodo",
			Subsystem: "feed",
			Name:      "events_published_total",
			Help:      "Change events published, by table and event type.",
		}, []string{"table", "type"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomtodo",
			Subsystem: "feed",
			Name:      "events_delivered_total",
			Help:      "Change events enqueued to subscriptions, by table.",
		}, []string{"table"}),
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "roomtodo",
			Subsystem: "feed",
			Name:      "subscriptions",
			Help:      "Open change feed subscriptions, by table.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.Delivered, m.Subscriptions)
	}
	return m
}
