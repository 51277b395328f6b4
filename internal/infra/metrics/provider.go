package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(providerCallsTotal, providerCallsLatencyMs, providerLimiterWaitMs)
}

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Calls to the generation provider per provider/op/outcome.",
		},
		[]string{"provider", "op", "outcome"}, // outcome: ok | transient | permanent
	)

	providerCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_calls_latency_ms",
			Help:    "Provider call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"provider", "op"},
	)

	providerLimiterWaitMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_limiter_wait_ms",
			Help:    "Time spent waiting for the provider concurrency/rate limiter.",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2500},
		},
	)
)

func ObserveProviderCall(provider, op, outcome string, latencyMs int64) {
	providerCallsTotal.WithLabelValues(norm(provider), norm(op), norm(outcome)).Inc()
	providerCallsLatencyMs.WithLabelValues(norm(provider), norm(op)).Observe(float64(latencyMs))
}

func ObserveLimiterWait(ms int64) {
	providerLimiterWaitMs.Observe(float64(ms))
}
