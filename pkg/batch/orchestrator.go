package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/account"
	"github.com/Sternrassler/savings-batch/pkg/aggregate"
	"github.com/Sternrassler/savings-batch/pkg/logging"
	"github.com/Sternrassler/savings-batch/pkg/processor"
	"github.com/Sternrassler/savings-batch/pkg/settings"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
	"github.com/Sternrassler/savings-batch/pkg/workerpool"
)

// JobName identifies the interest posting job to the job framework.
const JobName = "post-interest-for-savings"

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_batch_runs_total",
		Help: "Job runs by result (success, failure, aborted)",
	}, []string{"result"})

	pagesDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_batch_pages_dispatched_total",
		Help: "Pages dispatched to the worker pool",
	})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "savings_batch_run_duration_seconds",
		Help:    "Job run duration",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
	})

	lastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "savings_batch_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run",
	})
)

// Config holds orchestrator configuration.
type Config struct {
	// Status selects the accounts to process (default: account.StatusActive).
	Status account.Status

	// MaxReport bounds the failure text of the outcome (default: aggregate.DefaultMaxReport).
	MaxReport int
}

// DefaultConfig returns the configuration of the interest posting job.
func DefaultConfig() Config {
	return Config{
		Status:    account.StatusActive,
		MaxReport: aggregate.DefaultMaxReport,
	}
}

// AbortError is returned when a fetch or admission failure stops dispatch.
// Tasks dispatched before the failure still run to completion and their
// merged results are carried in Partial.
type AbortError struct {
	// Page is the page index at which dispatch stopped.
	Page int

	// Cause is the fetch error or *workerpool.RejectedError.
	Cause error

	// Partial is the outcome of the pages dispatched before the abort.
	Partial aggregate.JobOutcome
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	msg := fmt.Sprintf("job aborted at page %d: %v (%d pages completed before abort", e.Page, e.Cause, e.Partial.Pages)
	if !e.Partial.Success {
		msg += fmt.Sprintf(", %d account failures", e.Partial.Failed)
	}
	msg += ")"
	if e.Partial.Report != "" {
		msg += ":\n" + e.Partial.Report
	}
	return msg
}

// Unwrap returns the fatal cause.
func (e *AbortError) Unwrap() error {
	return e.Cause
}

// Orchestrator drives one interest posting run: it pages through the
// eligible accounts, dispatches one task per page to a bounded pool and
// merges the task results into a single outcome.
type Orchestrator struct {
	fetcher   account.PageFetcher
	processor *processor.Processor
	settings  settings.Source
	config    Config
	logger    zerolog.Logger
}

// New creates an orchestrator.
func New(fetcher account.PageFetcher, proc *processor.Processor, src settings.Source, config Config) *Orchestrator {
	if config.Status == account.StatusInvalid {
		config.Status = account.StatusActive
	}
	if config.MaxReport <= 0 {
		config.MaxReport = aggregate.DefaultMaxReport
	}
	return &Orchestrator{
		fetcher:   fetcher,
		processor: proc,
		settings:  src,
		config:    config,
		logger:    logging.NewLogger("orchestrator"),
	}
}

// WithLogger overrides the component logger.
func (o *Orchestrator) WithLogger(logger zerolog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// Name returns the job name.
func (o *Orchestrator) Name() string { return JobName }

// Execute runs the job and reports only the job-level error.
func (o *Orchestrator) Execute(ctx context.Context) error {
	_, err := o.Run(ctx)
	return err
}

type dispatched struct {
	page   int
	handle *workerpool.Handle
	result *processor.TaskResult
}

// Run executes one job run for the tenant carried by ctx.
//
// It returns the outcome and, when the outcome is a failure, a
// *aggregate.JobError; when dispatch was aborted, a *AbortError.
func (o *Orchestrator) Run(ctx context.Context) (aggregate.JobOutcome, error) {
	start := time.Now()

	tc, err := tenant.FromContext(ctx)
	if err != nil {
		runsTotal.WithLabelValues("aborted").Inc()
		return aggregate.JobOutcome{}, fmt.Errorf("capture tenant: %w", err)
	}

	runID := uuid.NewString()
	logger := logging.WithRun(o.logger, runID, tc.ID)

	s, err := o.settings.JobSettings(ctx, tc.ID)
	if err != nil {
		runsTotal.WithLabelValues("aborted").Inc()
		return aggregate.JobOutcome{}, fmt.Errorf("resolve job settings: %w", err)
	}

	logger.Info().
		Int("thread_count", s.ThreadCount).
		Int("page_size", s.PageSize).
		Str("status", o.config.Status.String()).
		Msg("Starting interest posting run")

	poolLogger := logger.With().Str("component", "workerpool").Logger()
	pool := workerpool.New(workerpool.Config{
		Name:      JobName,
		Workers:   s.ThreadCount,
		QueueSize: s.ThreadCount,
		MaxWait:   s.MaxAdmissionWait,
		Logger:    &poolLogger,
	})

	var (
		pending    []dispatched
		abortCause error
		pageIndex  int
		totalPages int
	)

	for {
		if err := ctx.Err(); err != nil {
			abortCause = fmt.Errorf("run cancelled before page %d: %w", pageIndex, err)
			break
		}

		page, err := o.fetcher.FetchPage(ctx, o.config.Status, pageIndex, s.PageSize)
		if err != nil {
			abortCause = fmt.Errorf("fetch page %d: %w", pageIndex, err)
			break
		}

		// The store's live total is re-read on every fetch.
		totalPages = page.TotalPages
		if totalPages == 0 || pageIndex >= totalPages {
			break
		}

		d, err := o.dispatch(ctx, pool, tc.Clone(), page)
		if err != nil {
			abortCause = fmt.Errorf("dispatch page %d: %w", pageIndex, err)
			break
		}
		pending = append(pending, d)
		pagesDispatchedTotal.Inc()

		logger.Debug().
			Int("page", pageIndex).
			Int("total_pages", totalPages).
			Int("accounts", page.Len()).
			Msg("Page dispatched")

		if len(pending)%50 == 0 {
			logger.Info().
				Int("dispatched", len(pending)).
				Int("total_pages", totalPages).
				Float64("progress_pct", float64(len(pending))/float64(totalPages)*100).
				Msg("Dispatch progress")
		}

		pageIndex++
		if pageIndex >= totalPages {
			break
		}
	}

	// Shutdown drains every admitted task before returning.
	pool.Shutdown()

	agg := aggregate.New(o.config.MaxReport, &logger)
	for _, d := range pending {
		if err := d.handle.Err(); err != nil {
			agg.AddTaskError(d.page, err)
			continue
		}
		agg.Add(*d.result)
	}
	outcome := agg.Outcome()

	duration := time.Since(start)
	runDurationSeconds.Observe(duration.Seconds())

	if abortCause != nil {
		runsTotal.WithLabelValues("aborted").Inc()
		logger.Error().
			Err(abortCause).
			Int("page", pageIndex).
			Int("pages_completed", outcome.Pages).
			Bool("interrupted", errors.Is(abortCause, context.Canceled) || errors.Is(abortCause, context.DeadlineExceeded)).
			Dur("duration", duration).
			Msg("Interest posting run aborted")
		return outcome, &AbortError{Page: pageIndex, Cause: abortCause, Partial: outcome}
	}

	event := logger.Info()
	result := "success"
	if !outcome.Success {
		event = logger.Error()
		result = "failure"
	} else {
		lastSuccessTimestamp.SetToCurrentTime()
	}
	runsTotal.WithLabelValues(result).Inc()

	event.
		Int("pages", outcome.Pages).
		Int("total_pages", totalPages).
		Int("processed", outcome.Processed).
		Int("failed", outcome.Failed).
		Int("truncated", outcome.Truncated).
		Dur("duration", duration).
		Msg("Interest posting run finished")

	return outcome, outcome.Err()
}

// dispatch submits one page. The task receives its own tenant copy and
// installs it into a context scoped to that task only.
func (o *Orchestrator) dispatch(ctx context.Context, pool *workerpool.Pool, tc tenant.Context, page *account.Page) (dispatched, error) {
	slot := &processor.TaskResult{PageIndex: page.Index}

	task := workerpool.TaskFunc(func(taskCtx context.Context) error {
		// In-flight tasks are not cancelled with the run.
		pageCtx := tenant.WithContext(context.WithoutCancel(taskCtx), tc)
		*slot = o.processor.ProcessPage(pageCtx, page)
		return nil
	})

	h, err := pool.Submit(ctx, task)
	if err != nil {
		return dispatched{}, err
	}
	return dispatched{page: page.Index, handle: h, result: slot}, nil
}
