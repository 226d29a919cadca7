package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexgate_orders_total",
		Help: "The total number of orders processed",
	}, []string{"status", "side"})

	SlicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexgate_order_slices_total",
		Help: "Execution slices submitted, by style and outcome",
	}, []string{"style", "outcome"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dexgate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexgate_risk_rejects_total",
		Help: "Total risk engine rejections",
	}, []string{"reason"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dexgate_provider_latency_seconds",
		Help:    "Outbound RPC call latency per provider",
		Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"provider", "class"})

	ProviderScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dexgate_provider_score",
		Help: "Health score per provider (lower is better)",
	}, []string{"provider"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dexgate_circuit_state",
		Help: "Circuit breaker state (0=closed 1=half-open 2=open)",
	}, []string{"breaker"})

	ReliableRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexgate_reliable_retries_total",
		Help: "Retries performed by the reliable call layer",
	}, []string{"class"})

	ExitTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexgate_exit_triggers_total",
		Help: "Position exit triggers fired by the monitor",
	}, []string{"reason", "outcome"})
)
