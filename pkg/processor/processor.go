// Package processor applies the interest posting operation to every account
// of a page, converting per-account failures into records instead of
// aborting the page.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/account"
	"github.com/Sternrassler/savings-batch/pkg/logging"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

var (
	accountsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_batch_accounts_processed_total",
		Help: "Accounts processed by result",
	}, []string{"result"})

	pageDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "savings_batch_page_duration_seconds",
		Help:    "Time to process every account of one page",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 120, 600},
	})
)

// FailureRecord is one account's processing failure.
type FailureRecord struct {
	AccountID int64
	Message   string
}

// String renders the record the way it appears in the job report.
func (f FailureRecord) String() string {
	return fmt.Sprintf("failed to post interest for Savings with id %d with message %s", f.AccountID, f.Message)
}

// TaskResult is the outcome of processing one page. It is owned by the task
// that produced it until handed to the aggregator.
type TaskResult struct {
	PageIndex int
	Processed int
	Succeeded int
	Failures  []FailureRecord
}

// Failed reports whether any account of the page failed.
func (r TaskResult) Failed() bool { return len(r.Failures) > 0 }

// Report returns the failure text of the page, one record per line.
func (r TaskResult) Report() string {
	if len(r.Failures) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range r.Failures {
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Processor runs the operation account by account.
type Processor struct {
	op        account.Operation
	assembler account.Assembler
	logger    zerolog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithAssembler attaches helpers to each account before the operation.
func WithAssembler(a account.Assembler) Option {
	return func(p *Processor) { p.assembler = a }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a processor for op.
func New(op account.Operation, opts ...Option) *Processor {
	p := &Processor{
		op:     op,
		logger: logging.NewLogger("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessPage processes every account of page in store order. A failing
// account never stops the loop.
func (p *Processor) ProcessPage(ctx context.Context, page *account.Page) TaskResult {
	start := time.Now()
	res := TaskResult{PageIndex: page.Index}

	logger := p.logger.With().Int("page", page.Index).Logger()
	if tc, err := tenant.FromContext(ctx); err == nil {
		logger = logger.With().Str("tenant", tc.ID).Logger()
	}

	for i := range page.Accounts {
		acct := &page.Accounts[i]
		logger.Debug().
			Str("account", acct.AccountNumber).
			Msg("Posting interest")

		res.Processed++
		if rec := p.process(ctx, logger, acct); rec != nil {
			res.Failures = append(res.Failures, *rec)
			continue
		}
		res.Succeeded++
	}

	pageDurationSeconds.Observe(time.Since(start).Seconds())
	logger.Debug().
		Int("processed", res.Processed).
		Int("failed", len(res.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Page processed")

	return res
}

// Process applies the operation to a single account. It returns nil on
// success or the failure record; the raw error is never propagated.
func (p *Processor) Process(ctx context.Context, acct *account.Account) *FailureRecord {
	return p.process(ctx, p.logger, acct)
}

func (p *Processor) process(ctx context.Context, logger zerolog.Logger, acct *account.Account) (rec *FailureRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = p.fail(logger, acct, fmt.Errorf("panic: %v", r))
		}
	}()

	if p.assembler != nil {
		if err := p.assembler.AssignHelpers(ctx, acct); err != nil {
			return p.fail(logger, acct, err)
		}
	}

	// No as-of override: the operation uses the natural processing date.
	if err := p.op.PostInterest(ctx, acct, nil); err != nil {
		return p.fail(logger, acct, err)
	}

	accountsProcessedTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *Processor) fail(logger zerolog.Logger, acct *account.Account, err error) *FailureRecord {
	accountsProcessedTotal.WithLabelValues("failure").Inc()
	logger.Error().
		Err(err).
		Int64("account_id", acct.ID).
		Msg("Post interest failed")

	return &FailureRecord{
		AccountID: acct.ID,
		Message:   RootCause(err).Error(),
	}
}

// RootCause unwraps one level of cause wrapping, if present.
func RootCause(err error) error {
	if cause := errors.Unwrap(err); cause != nil {
		return cause
	}
	return err
}
