// Package metrics declares the prometheus collectors the queue processor,
// block monitor, and notifier report against, and the handler that serves
// them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueuePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_queue_passes_total",
		Help: "Queue processor passes run, by outcome.",
	}, []string{"outcome"})

	TransactionsByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_transactions_total",
		Help: "Transactions transitioned, by resulting status.",
	}, []string{"status"})

	BlocksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_blocks_ingested_total",
		Help: "Blocks ingested by the block monitor.",
	})

	BlockMonitorLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_block_monitor_lag",
		Help: "Blocks between last_block and the chain's latest block.",
	})

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_notifications_dispatched_total",
		Help: "Notifications dispatched, by transport.",
	}, []string{"service"})

	HousekeeperRebroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_housekeeper_rebroadcasts_total",
		Help: "Stale transactions rebroadcast by the sanity sweep.",
	})

	GasPriceFloorWei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_gas_price_floor_wei",
		Help: "Current safe-low gas price floor, in wei.",
	})
)

// Handler serves the registered collectors on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
