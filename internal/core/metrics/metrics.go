package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APICallsTotal tracks upstream API calls per tenant, method and outcome.
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_calls_total",
			Help: "Total number of upstream API calls",
		},
		[]string{"tenant", "method", "status"},
	)

	// APIRetriesTotal tracks retried attempts per tenant and method.
	APIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_retries_total",
			Help: "Total number of retried API attempts",
		},
		[]string{"tenant", "method"},
	)

	// APICallLatency tracks end-to-end call latency including retries.
	APICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_call_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant", "method"},
	)

	// TokenRefreshTotal tracks credential refresh attempts by result.
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_token_refresh_total",
			Help: "Total number of OAuth token refreshes",
		},
		[]string{"result"},
	)

	// LimiterWaitSeconds tracks time spent waiting on the rate limiter.
	LimiterWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: []float64{.005, .05, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tenant"},
	)

	// WorkerEventsTotal tracks offline events per processing outcome.
	WorkerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_worker_events_total",
			Help: "Total number of offline events by outcome",
		},
		[]string{"result"},
	)

	// WorkerCyclesTotal tracks polling cycles by outcome.
	WorkerCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_worker_cycles_total",
			Help: "Total number of offline worker polling cycles",
		},
		[]string{"result"},
	)

	// DLQAppendsTotal tracks dead-lettered records.
	DLQAppendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dlq_appends_total",
			Help: "Total number of records appended to the dead-letter queue",
		},
	)
)
