// Package job runs batch jobs on a fixed interval or on demand.
//
// Jobs implement the Job interface:
//
//	type Job interface {
//	    Name() string
//	    Execute(ctx context.Context) error
//	}
//
// A Runner installs the configured tenant into the run context and, when a
// Locker is set, only executes on the node holding the job's run lock.
// Failed runs are logged; the next run happens on the next tick.
package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/logging"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

// Job is one schedulable batch job.
type Job interface {
	Name() string
	Execute(ctx context.Context) error
}

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_batch_job_executions_total",
		Help: "Job executions by result (success, failure, skipped)",
	}, []string{"job", "result"})

	runningGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "savings_batch_job_running",
		Help: "1 while a job execution is in progress",
	}, []string{"job"})
)

// Config holds runner configuration.
type Config struct {
	// Interval between scheduled runs (default: 24h).
	Interval time.Duration

	// InitialDelay before the first scheduled run.
	InitialDelay time.Duration

	// Tenant is installed into every run context.
	Tenant tenant.Context

	// Locker gates runs across nodes. Nil runs unconditionally.
	Locker Locker

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// Runner triggers a Job on a fixed interval.
type Runner struct {
	job    Job
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// exec serialises executions on this node.
	exec sync.Mutex

	resultMu sync.Mutex
	lastErr  error
	lastRun  time.Time
}

// NewRunner creates a runner for job.
func NewRunner(job Job, cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	logger := logging.NewLogger("job")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Runner{
		job:    job,
		cfg:    cfg,
		logger: logger.With().Str("job", job.Name()).Logger(),
	}
}

// Start begins scheduled execution. It is a no-op if already started.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info().
		Dur("interval", r.cfg.Interval).
		Dur("initial_delay", r.cfg.InitialDelay).
		Msg("Job runner started")
}

// Stop cancels a run in progress, waits for it and stops the schedule.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info().Msg("Job runner stopped")
}

// IsRunning reports whether the schedule is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastResult returns the time and error of the most recent execution.
func (r *Runner) LastResult() (time.Time, error) {
	r.resultMu.Lock()
	defer r.resultMu.Unlock()
	return r.lastRun, r.lastErr
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	if r.cfg.InitialDelay > 0 {
		select {
		case <-time.After(r.cfg.InitialDelay):
		case <-ctx.Done():
			return
		}
	}
	r.tick(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	err := r.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotLeader):
		r.logger.Info().Msg("Skipping run, lock held by another node")
	default:
		r.logger.Error().Err(err).Msg("Scheduled run failed")
	}
}

// RunOnce executes the job once with the configured tenant. It returns
// ErrNotLeader without running when another node holds the run lock, and
// cancels the run if that lock is lost while the job executes.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.exec.Lock()
	defer r.exec.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := r.job.Name()
	if r.cfg.Locker != nil {
		release, err := r.cfg.Locker.TryLock(ctx, name, func() {
			r.logger.Warn().Msg("Run lock lost, cancelling run")
			cancel()
		})
		if err != nil {
			if errors.Is(err, ErrNotLeader) {
				executionsTotal.WithLabelValues(name, "skipped").Inc()
			}
			return err
		}
		defer func() {
			// The run context may be cancelled by now.
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to release run lock")
			}
		}()
	}

	runningGauge.WithLabelValues(name).Set(1)
	defer runningGauge.WithLabelValues(name).Set(0)

	start := time.Now()
	err := r.job.Execute(tenant.WithContext(ctx, r.cfg.Tenant.Clone()))

	r.resultMu.Lock()
	r.lastRun, r.lastErr = start, err
	r.resultMu.Unlock()
	if err != nil {
		executionsTotal.WithLabelValues(name, "failure").Inc()
		return err
	}
	executionsTotal.WithLabelValues(name, "success").Inc()
	r.logger.Info().Dur("duration", time.Since(start)).Msg("Job run completed")
	return nil
}
