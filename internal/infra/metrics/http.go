package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		httpRequestsTotal,
		httpRequestDuration,
		wsFramesReceivedTotal,
		rateLimitTriggeredTotal,
	)
}

var (
	// route is the chi route pattern so label cardinality stays bounded.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by route, method and status code.",
		},
		[]string{"route", "method", "code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API handler latency in seconds.",
			Buckets: []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route"},
	)

	// type: generate|subscribe|unsubscribe|invalid
	wsFramesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_frames_received_total",
			Help: "Client frames received on the push channel by type.",
		},
		[]string{"type"},
	)

	rateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "submit_rate_limit_triggered_total",
			Help: "Total number of submissions rejected by the per-client rate limit.",
		},
	)
)

func ObserveHTTPRequest(route, method string, code int, seconds float64) {
	httpRequestsTotal.WithLabelValues(route, method, codeLabel(code)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(seconds)
}

func IncWSFrame(frameType string) {
	wsFramesReceivedTotal.WithLabelValues(norm(frameType)).Inc()
}

func IncRateLimitTriggered() {
	rateLimitTriggeredTotal.Inc()
}
