// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var CreditsDeducted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "ledger",
	Name:      "credits_deducted_total",
	Help:      "Credits deducted for usage, by usage type and source (trial or subscription).",
}, []string{"usage_type", "source"})

var CreditsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "ledger",
	Name:      "credits_granted_total",
	Help:      "Credits added to balances, by transaction type.",
}, []string{"type"})

var CreditChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "ledger",
	Name:      "credit_checks_total",
	Help:      "Credit pre-checks, by outcome.",
}, []string{"allowed"})

var ThresholdsCrossed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "ledger",
	Name:      "thresholds_crossed_total",
	Help:      "Usage threshold notifications raised.",
}, []string{"threshold"})

var TierChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "subscription",
	Name:      "tier_changes_total",
	Help:      "Applied tier changes, by kind.",
}, []string{"kind"})

var CheckoutsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "payment",
	Name:      "checkouts_total",
	Help:      "Checkout sessions, by result.",
}, []string{"result"})

var WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "payment",
	Name:      "webhooks_total",
	Help:      "Gateway notifications, by outcome.",
}, []string{"outcome"})

var GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "lingua",
	Subsystem: "payment",
	Name:      "gateway_latency_seconds",
	Help:      "Latency of payment gateway session creation.",
	Buckets:   prometheus.DefBuckets,
})

var SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "sweep",
	Name:      "items_total",
	Help:      "Rows processed by maintenance sweeps, by job and result.",
}, []string{"job", "result"})

var NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "notification",
	Name:      "delivered_total",
	Help:      "Email deliveries attempted by the dispatcher, by result.",
}, []string{"result"})

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status.",
}, []string{"method", "route", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "lingua",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route"})

var PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lingua",
	Subsystem: "http",
	Name:      "panics_recovered_total",
	Help:      "Handler panics caught by the recovery middleware, by route.",
}, []string{"route"})
