package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsSubmittedTotal, jobsFinishedTotal, activeLoops, jobPolls)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_submitted_total",
			Help: "Submission attempts, labeled by result.",
		},
		[]string{"result"}, // 'accepted', 'invalid', 'duplicate', 'provider_error', 'rate_limited'
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_finished_total",
			Help: "Jobs that reached a terminal state, labeled by status.",
		},
		[]string{"status"}, // 'succeeded', 'failed', 'timeout'
	)

	activeLoops = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_reconcile_loops_active",
			Help: "Number of running reconciliation loops.",
		},
	)

	jobPolls = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_job_polls",
			Help:    "Reconciliation polls spent per job until it became terminal.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 150, 300},
		},
	)
)

func IncSubmission(result string) {
	jobsSubmittedTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveJobFinished(status string, attempts int) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
	jobPolls.Observe(float64(attempts))
}

func LoopStarted() { activeLoops.Inc() }
func LoopStopped() { activeLoops.Dec() }
