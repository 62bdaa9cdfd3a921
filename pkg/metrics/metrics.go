// Package metrics provides Prometheus instrumentation for the simulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts filled stock/crypto/option orders by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersim_orders_total",
		Help: "Total number of orders filled",
	}, []string{"side"})

	// RiskRejections counts orders rejected before mutation, by reason.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersim_risk_rejections_total",
		Help: "Orders rejected by risk checks",
	}, []string{"reason"})

	// BetsTotal counts accepted prediction-market bets.
	BetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_poly_bets_total",
		Help: "Total number of prediction-market bets accepted",
	})

	// ResolutionsTotal counts resolved prediction markets.
	ResolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_poly_resolutions_total",
		Help: "Total number of prediction markets resolved",
	})

	// PayoutsPaid accumulates settlement currency paid to winners.
	PayoutsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_poly_payouts_paid_total",
		Help: "Cumulative prediction-market payout amount",
	})

	// SnapshotWrites counts durable state snapshot commits.
	SnapshotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_snapshot_writes_total",
		Help: "State snapshots written to the embedded store",
	})

	// SnapshotFailures counts snapshot encode/commit failures.
	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_snapshot_failures_total",
		Help: "State snapshot writes that failed",
	})

	// SnapshotLoadFailures counts unparseable snapshots discarded at startup.
	SnapshotLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_snapshot_load_failures_total",
		Help: "Startup snapshot loads that fell back to an empty store",
	})

	// RefreshAttempts counts feed refresh passes started (prices and
	// prediction markets alike).
	RefreshAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_feed_refresh_attempts_total",
		Help: "Feed refresh passes attempted",
	})

	// RefreshSuccesses counts refresh passes that completed.
	RefreshSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_feed_refresh_successes_total",
		Help: "Feed refresh passes that completed",
	})

	// Accounts tracks the number of live accounts.
	Accounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papersim_accounts",
		Help: "Number of live accounts in the ledger",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
