package store

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/account"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

var (
	fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_batch_fetch_retries_total",
		Help: "Page fetch attempts retried after a transient error",
	})

	fetchExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_batch_fetch_retry_exhausted_total",
		Help: "Page fetches that failed after exhausting retries",
	})
)

// RetryConfig holds the retry policy for page fetches.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the first backoff interval.
	InitialBackoff time.Duration

	// MaxBackoff caps a single backoff interval.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default fetch retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// RetryingFetcher retries transient fetch failures with exponential backoff.
// Invalid page requests, missing tenants and context errors are not retried.
// An error surviving every attempt is returned to the caller, which treats it
// as fatal to the run.
type RetryingFetcher struct {
	next   account.PageFetcher
	cfg    RetryConfig
	logger zerolog.Logger
}

// NewRetryingFetcher wraps next.
func NewRetryingFetcher(next account.PageFetcher, cfg RetryConfig, logger zerolog.Logger) *RetryingFetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultRetryConfig().MaxBackoff
	}
	return &RetryingFetcher{next: next, cfg: cfg, logger: logger}
}

// FetchPage implements account.PageFetcher.
func (f *RetryingFetcher) FetchPage(ctx context.Context, status account.Status, pageIndex, pageSize int) (*account.Page, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.InitialBackoff
	exp.MaxInterval = f.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.cfg.MaxAttempts-1)), ctx)

	var page *account.Page
	op := func() error {
		p, err := f.next.FetchPage(ctx, status, pageIndex, pageSize)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		page = p
		return nil
	}

	notify := func(err error, wait time.Duration) {
		fetchRetriesTotal.Inc()
		f.logger.Warn().
			Err(err).
			Int("page", pageIndex).
			Dur("backoff", wait).
			Msg("Page fetch failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if retryable(err) {
			fetchExhaustedTotal.Inc()
		}
		return nil, err
	}
	return page, nil
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, account.ErrPageOutOfRange),
		errors.Is(err, tenant.ErrNoTenant),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
