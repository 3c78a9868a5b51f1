// Package obsmetrics registers the prometheus collectors surfaced by the
// router core: breaker state, health score, adaptive-limit current_limit,
// and billing error counters.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_breaker_state",
		Help: "Circuit breaker state per upstream (0=closed,1=open,2=half_open).",
	}, []string{"upstream_id"})

	HealthScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_health_score",
		Help: "Composite health score per channel/model.",
	}, []string{"channel_id", "model"})

	AdaptiveCurrentLimit = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_adaptive_current_limit",
		Help: "Learned current_limit of the adaptive rate limiter per channel/model.",
	}, []string{"channel_id", "model"})

	BillingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_billing_errors_total",
		Help: "Count of billing-stage errors by kind.",
	}, []string{"kind"})

	JournalDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_journal_dropped_total",
		Help: "Count of log entries dropped because the journal channel was full.",
	}, []string{})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_requests_total",
		Help: "Inbound requests by path and final status code.",
	}, []string{"path", "status"})
)

func init() {
	prometheus.MustRegister(
		BreakerState,
		HealthScore,
		AdaptiveCurrentLimit,
		BillingErrors,
		JournalDropped,
		RequestsTotal,
	)
}
