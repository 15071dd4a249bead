package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	OrdersEnqueued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ordersync_orders_enqueued_total", Help: "Orders newly added to the sync queue"})
	OrderPushes       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ordersync_order_push_total", Help: "Push attempts by outcome"}, []string{"outcome"})
	CatalogRebuilds   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ordersync_catalog_rebuilds_total", Help: "Catalog snapshot rebuilds"}, []string{"resource", "result"})
	CatalogLookups    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ordersync_catalog_lookups_total", Help: "Snapshot lookups by hit or miss"}, []string{"resource", "result"})
	RemoteCalls       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ordersync_remote_calls_total", Help: "Calls to the accounting API"}, []string{"operation", "outcome"})
	BreakerState      = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ordersync_breaker_state", Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)"}, []string{"name"})
	TriggerJobs       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ordersync_trigger_jobs_total", Help: "Trigger jobs handled by kind and result"}, []string{"kind", "result"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ordersync_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	QueuePendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ordersync_queue_pending", Help: "Orders waiting to be pushed"})
	TriggerDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ordersync_trigger_queue_depth", Help: "Ready trigger jobs"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ordersync_trigger_inflight", Help: "Trigger jobs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			OrdersEnqueued,
			OrderPushes,
			CatalogRebuilds,
			CatalogLookups,
			RemoteCalls,
			BreakerState,
			TriggerJobs,
			RateLimitRejects,
			QueuePendingGauge,
			TriggerDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
