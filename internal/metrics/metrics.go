// Package metrics holds the relay's prometheus collectors. They are
// registered on the default registry and served by the admin API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PeersConnected tracks live peers per service.
	PeersConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "peers_connected",
		Help:      "Number of connected peers per service.",
	}, []string{"service"})

	// PacketsReceived counts decoded packets per service.
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "packets_received_total",
		Help:      "Packets received per service.",
	}, []string{"service"})

	// PacketsSent counts sent packets per service.
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "packets_sent_total",
		Help:      "Packets sent per service.",
	}, []string{"service"})

	// GameServersRegistered tracks live registry records.
	GameServersRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "game_servers_registered",
		Help:      "Number of registered game servers.",
	})

	// MatchingResults counts matching outcomes by kind and result.
	MatchingResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "matching_results_total",
		Help:      "Matching engine outcomes.",
	}, []string{"kind", "result"})

	// Logins counts login attempts by result.
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "logins_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})
)
