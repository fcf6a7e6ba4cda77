package client

import "github.com/prometheus/client_golang/prometheus"

// Counters the client updates during operation. They are registered in
// init() and served by the optional /metrics listener wired in the CLI.
var (
	mtxRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests issued to the gateway",
		},
		[]string{"kind"},
	)

	mtxDedup = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_request_dedup_total",
			Help: "Calls joined to an already pending request",
		},
		[]string{"kind"},
	)

	mtxTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_request_timeouts_total",
			Help: "Requests that hit their timeout bound",
		},
		[]string{"kind"},
	)

	mtxErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_request_errors_total",
			Help: "Requests rejected by a fatal gateway error",
		},
		[]string{"kind"},
	)

	mtxSeriesCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historical_cache_requests_total",
			Help: "Historical series cache lookups",
		},
		[]string{"result"}, // hit|miss|stale
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_submitted_total",
			Help: "Orders submitted",
		},
		[]string{"side"},
	)

	mtxOrderStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_events_total",
			Help: "Order status transitions observed",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxRequests,
		mtxDedup,
		mtxTimeouts,
		mtxErrors,
		mtxSeriesCache,
		mtxOrders,
		mtxOrderStatus,
	)
}
