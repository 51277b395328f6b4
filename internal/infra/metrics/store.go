package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(storeOpsTotal, storeGCDeletedTotal) }

var (
	storeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_store_operations_total",
			Help: "Job store operations per driver/op/result.",
		},
		[]string{"driver", "op", "result"}, // e.g., driver="redis", op="update", result="conflict"
	)

	storeGCDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "job_store_gc_deleted_total",
			Help: "Terminal jobs removed after the retention window.",
		},
	)
)

func IncStoreOp(driver, op, result string) {
	storeOpsTotal.WithLabelValues(norm(driver), norm(op), norm(result)).Inc()
}

func AddGCDeleted(n int) {
	storeGCDeletedTotal.Add(float64(n))
}
