package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP метрики
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Gateway метрики
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Total number of push requests sent to the payment gateway",
		},
		[]string{"gateway", "result"},
	)
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "payment_gateway_request_duration_seconds",
			Help: "Duration of payment gateway push requests in seconds",
		},
		[]string{"gateway"},
	)

	// Payment lifecycle метрики
	PaymentsInitiatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Push payments accepted by the gateway",
		},
		[]string{"kind", "tier"},
	)
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Gateway callbacks by handling result",
		},
		[]string{"result"},
	)
	TierChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_tier_changes_total",
			Help: "Committed ledger tier changes",
		},
		[]string{"tier"},
	)
	LedgerConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_ledger_conflicts_total",
			Help: "Optimistic write conflicts observed on the ledger",
		},
	)
	ReconcileTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_transitions_total",
			Help: "Records changed by the reconciliation sweep",
		},
		[]string{"action"},
	)
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "payment_reconcile_duration_seconds",
			Help: "Duration of a reconciliation sweep in seconds",
		},
	)
)

var initOnce sync.Once

func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(HTTPRequestsInFlight)

		prometheus.MustRegister(GatewayRequestsTotal)
		prometheus.MustRegister(GatewayRequestDuration)

		prometheus.MustRegister(PaymentsInitiatedTotal)
		prometheus.MustRegister(CallbacksTotal)
		prometheus.MustRegister(TierChangesTotal)
		prometheus.MustRegister(LedgerConflictsTotal)
		prometheus.MustRegister(ReconcileTransitionsTotal)
		prometheus.MustRegister(ReconcileDuration)
	})
}
