package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(hubConnections, hubSubscriptions, hubEventsTotal)
}

var (
	hubConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connections",
			Help: "Open push-channel connections.",
		},
	)

	hubSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_subscriptions",
			Help: "Live (connection, job) subscriptions.",
		},
	)

	hubEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_total",
			Help: "Push events by kind and fate.",
		},
		[]string{"kind", "fate"}, // fate: delivered | coalesced | dropped
	)
)

func SetHubConnections(n int)   { hubConnections.Set(float64(n)) }
func SetHubSubscriptions(n int) { hubSubscriptions.Set(float64(n)) }

func IncHubEvent(kind, fate string) {
	hubEventsTotal.WithLabelValues(norm(kind), norm(fate)).Inc()
}
