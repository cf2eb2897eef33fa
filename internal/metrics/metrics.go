// Package metrics registers the prometheus collectors for the voice plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ActiveRooms  prometheus.Gauge
	Participants prometheus.Gauge
	Producers    prometheus.Gauge
	JoinFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hallway",
			Name:      "active_rooms",
			Help:      "Rooms currently open.",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hallway",
			Name:      "participants",
			Help:      "Participants across all rooms.",
		}),
		Producers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hallway",
			Name:      "producers",
			Help:      "Live producers across all rooms.",
		}),
		JoinFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hallway",
			Name:      "join_failures_total",
			Help:      "Rejected or failed room joins by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.ActiveRooms, m.Participants, m.Producers, m.JoinFailures)
	return m
}

// NewNop returns metrics backed by a private registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
