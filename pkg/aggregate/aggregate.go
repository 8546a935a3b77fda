// Package aggregate merges per-page task results into the job outcome.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/logging"
	"github.com/Sternrassler/savings-batch/pkg/processor"
)

// DefaultMaxReport bounds the failure text kept in a job outcome.
const DefaultMaxReport = 65000

// ErrJobFailed is matched by every *JobError.
var ErrJobFailed = errors.New("job failed")

// JobOutcome is the terminal decision for one job run.
type JobOutcome struct {
	Success   bool
	Pages     int
	Processed int
	Succeeded int
	Failed    int

	// PageErrors counts tasks that failed as a whole instead of per account.
	PageErrors int

	// Report is the concatenated failure text, at most the configured bound.
	Report string

	// Truncated counts failure records dropped from Report.
	Truncated int
}

// Err returns nil for a successful outcome and a *JobError otherwise.
func (o JobOutcome) Err() error {
	if o.Success {
		return nil
	}
	return &JobError{Outcome: o}
}

// JobError is the single job-level failure raised to the job framework.
type JobError struct {
	Outcome JobOutcome
}

// Error implements the error interface.
func (e *JobError) Error() string {
	msg := fmt.Sprintf("job failed: %d of %d accounts failed across %d pages",
		e.Outcome.Failed, e.Outcome.Processed, e.Outcome.Pages)
	if e.Outcome.PageErrors > 0 {
		msg += fmt.Sprintf(", %d pages failed", e.Outcome.PageErrors)
	}
	if e.Outcome.Truncated > 0 {
		msg += fmt.Sprintf(" (%d failures omitted from report)", e.Outcome.Truncated)
	}
	if e.Outcome.Report != "" {
		msg += ":\n" + strings.TrimRight(e.Outcome.Report, "\n")
	}
	return msg
}

// Is reports sentinel equivalence.
func (e *JobError) Is(target error) bool { return target == ErrJobFailed }

// Aggregator accumulates task results. It is safe for concurrent use, though
// the orchestrator merges sequentially after every task has completed.
type Aggregator struct {
	maxReport int
	logger    zerolog.Logger

	mu      sync.Mutex
	outcome JobOutcome
	report  strings.Builder
}

// New creates an aggregator bounding report text to maxReport bytes
// (DefaultMaxReport when maxReport <= 0).
func New(maxReport int, logger *zerolog.Logger) *Aggregator {
	if maxReport <= 0 {
		maxReport = DefaultMaxReport
	}
	l := logging.NewLogger("aggregate")
	if logger != nil {
		l = *logger
	}
	return &Aggregator{maxReport: maxReport, logger: l}
}

// Add merges one task result.
func (a *Aggregator) Add(r processor.TaskResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outcome.Pages++
	a.outcome.Processed += r.Processed
	a.outcome.Succeeded += r.Succeeded
	a.outcome.Failed += len(r.Failures)

	for _, f := range r.Failures {
		a.appendLocked(r.PageIndex, f.AccountID, f.String())
	}
}

// AddTaskError records a task that failed without producing a result.
func (a *Aggregator) AddTaskError(pageIndex int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outcome.Pages++
	a.outcome.PageErrors++
	a.appendLocked(pageIndex, 0, fmt.Sprintf("failed to post interest for page %d with message %v", pageIndex, err))
}

func (a *Aggregator) appendLocked(pageIndex int, accountID int64, text string) {
	line := text + "\n"
	if a.report.Len()+len(line) < a.maxReport {
		a.report.WriteString(line)
		return
	}
	a.outcome.Truncated++
	a.logger.Error().
		Int("page", pageIndex).
		Int64("account_id", accountID).
		Str("failure", text).
		Msg("Additional post interest errors not logged in history")
}

// Outcome returns the merged outcome so far.
func (a *Aggregator) Outcome() JobOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.outcome
	out.Report = a.report.String()
	out.Success = out.Failed == 0 && out.PageErrors == 0
	return out
}

// Merge folds results, in order, into a single outcome.
func Merge(results []processor.TaskResult, maxReport int, logger *zerolog.Logger) JobOutcome {
	a := New(maxReport, logger)
	for _, r := range results {
		a.Add(r)
	}
	return a.Outcome()
}
