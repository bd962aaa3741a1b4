package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"bursar/pkg/monitoring"
)

var (
	checkoutsStarted  *prometheus.CounterVec
	checkoutsSettled  *prometheus.CounterVec
	checkoutFailures  *prometheus.CounterVec
	pendingSweptTotal *prometheus.CounterVec
	pushEventsTotal   *prometheus.CounterVec
)

// InitMetrics registers the checkout metrics on the service collector.
func InitMetrics(mc *monitoring.MetricsCollector) {
	checkoutsStarted = mc.NewCounter("checkouts_started_total", "Checkouts begun, by payment channel", []string{"channel"})
	checkoutsSettled = mc.NewCounter("checkouts_settled_total", "Checkouts settled against the ledger", []string{"channel"})
	checkoutFailures = mc.NewCounter("checkout_failures_total", "Checkout failures by error class", []string{"class"})
	pendingSweptTotal = mc.NewCounter("pending_swept_total", "Abandoned pending transactions removed by the sweeper", nil)
	pushEventsTotal = mc.NewCounter("push_events_total", "Push notifications processed", []string{"type", "matched"})
}
