// Package metrics exposes the Prometheus registry of the savings batch.
// Metrics are defined in their owning packages (workerpool, processor, batch,
// store, job) and registered through promauto.
//
// This package provides the scrape handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer promauto uses in every package.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Metrics Documentation
//
// Worker Pool Metrics (pkg/workerpool):
//   - savings_batch_pool_submissions_total{pool} (Counter): Tasks admitted
//   - savings_batch_pool_blocked_submissions_total{pool} (Counter): Submissions that found the pool saturated
//   - savings_batch_pool_rejections_total{pool, reason} (Counter): Rejections by reason (shutdown, timeout, interrupted)
//   - savings_batch_pool_admission_wait_seconds{pool} (Histogram): Time blocked before admission
//   - savings_batch_pool_task_duration_seconds{pool} (Histogram): Task run time
//   - savings_batch_pool_queue_depth{pool} (Gauge): Tasks waiting for a worker
//
// Processing Metrics (pkg/processor):
//   - savings_batch_accounts_processed_total{result} (Counter): Accounts by result (success, failure)
//   - savings_batch_page_duration_seconds (Histogram): Time to process one page
//
// Run Metrics (pkg/batch):
//   - savings_batch_runs_total{result} (Counter): Runs by result (success, failure, aborted)
//   - savings_batch_pages_dispatched_total (Counter): Pages handed to the pool
//   - savings_batch_run_duration_seconds (Histogram): Run duration
//   - savings_batch_last_success_timestamp_seconds (Gauge): Unix time of the last successful run
//
// Fetch Metrics (pkg/store):
//   - savings_batch_fetch_retries_total (Counter): Page fetch retries
//   - savings_batch_fetch_retry_exhausted_total (Counter): Page fetches failing after all retries
//
// Scheduling Metrics (pkg/job):
//   - savings_batch_job_executions_total{job, result} (Counter): Executions by result (success, failure, skipped)
//   - savings_batch_job_running{job} (Gauge): 1 while an execution is in progress
//
// Example Prometheus Queries:
//
//   # Account failure rate
//   sum(rate(savings_batch_accounts_processed_total{result="failure"}[1h])) /
//   sum(rate(savings_batch_accounts_processed_total[1h]))
//
//   # No successful run in the last 26 hours
//   time() - savings_batch_last_success_timestamp_seconds > 26 * 3600
//
//   # Dispatch backpressure
//   rate(savings_batch_pool_blocked_submissions_total[5m])
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(savings_batch_page_duration_seconds_bucket[5m]))
