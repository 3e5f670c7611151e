package realtime

import (
	"strings"

	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the hub's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	clients   prometheus.Gauge
	rooms     prometheus.Gauge
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewMetrics registers hub collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Connected websocket sessions joined to at least one room.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "rooms",
			Help:      "Non-empty user rooms.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "events_delivered_total",
			Help:      "Events enqueued to a client, by event family.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the client queue was full or closing, by event family.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.clients, m.rooms, m.delivered, m.dropped)
	}
	return m
}

// eventFamily collapses notification:{id} so user ids never become label values.
func eventFamily(event string) string {
	if strings.HasPrefix(event, v1.NotificationPrefix) {
		return "notification"
	}
	return event
}

func (m *Metrics) observeDelivery(event string, delivered, dropped int) {
	if m == nil {
		return
	}
	fam := eventFamily(event)
	if delivered > 0 {
		m.delivered.WithLabelValues(fam).Add(float64(delivered))
	}
	if dropped > 0 {
		m.dropped.WithLabelValues(fam).Add(float64(dropped))
	}
}

func (m *Metrics) setSizes(clients, rooms int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(clients))
	m.rooms.Set(float64(rooms))
}
