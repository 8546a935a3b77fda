package workerpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_batch_pool_submissions_total",
		Help: "Tasks accepted for execution by pool",
	}, []string{"pool"})

	blockedSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_batch_pool_blocked_submissions_total",
		Help: "Submissions that found the pool saturated and had to wait for admission",
	}, []string{"pool"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_batch_pool_rejections_total",
		Help: "Rejected submissions by pool and reason",
	}, []string{"pool", "reason"})

	admissionWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "savings_batch_pool_admission_wait_seconds",
		Help:    "Time submitters spent blocked waiting for a queue slot",
		Buckets: []float64{0.01, 0.1, 1, 10, 60, 600, 3600},
	}, []string{"pool"})

	taskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "savings_batch_pool_task_duration_seconds",
		Help:    "Task execution duration",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 120, 600},
	}, []string{"pool"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "savings_batch_pool_queue_depth",
		Help: "Tasks waiting in the admission queue",
	}, []string{"pool"})
)
