package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for one server instance.
type Metrics struct {
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	PacketsDropped  prometheus.Counter
	OffersSent      prometheus.Counter
	AcksSent        prometheus.Counter
	NacksSent       prometheus.Counter
	RequestsIgnored prometheus.Counter
	Exhaustions     prometheus.Counter
	LeasesReclaimed prometheus.Counter
	ActiveLeases    prometheus.Gauge
}

// NewMetrics registers the server's instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sdhcp_packets_received_total",
			Help: "Inbound packets by message type.",
		}, []string{"type"}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sdhcp_packets_sent_total",
			Help: "Outbound packets by message type.",
		}, []string{"type"}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdhcp_packets_dropped_total",
			Help: "Packets dropped as malformed or misdirected.",
		}),
		OffersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdhcp_offers_total",
			Help: "Offers produced by the handshake engine.",
		}),
		AcksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdhcp_acks_total",
			Help: "Leases committed or renewed.",
		}),
		NacksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdhcp_nacks_total",
			Help: "Requests refused.",
		}),
		RequestsIgnored: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdhcp_requests_ignored_total",
			Help: "Requests addressed to a different server.",
		}),
		Exhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdhcp_pool_exhausted_total",
			Help: "Discovers answered with silence because no address was free.",
		}),
		LeasesReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdhcp_leases_reclaimed_total",
			Help: "Leases and reservations removed by the expiry sweep.",
		}),
		ActiveLeases: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sdhcp_active_leases",
			Help: "Currently active tentative and committed leases.",
		}),
	}
}
