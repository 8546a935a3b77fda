// Package testutil provides in-memory collaborators for batch tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/savings-batch/pkg/account"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

// Book is an in-memory account store. It implements account.PageFetcher and
// account.Operation and records every fetch and every posting attempt.
type Book struct {
	mu       sync.RWMutex
	accounts []account.Account

	// Tracking
	fetches  []int
	attempts map[int64]int
	tenants  map[string]int

	failures   map[int64]error
	fetchErrAt map[int]error
	opDelay    time.Duration
	fetchHook  func(pageIndex int)
}

// NewBook creates a book holding n active accounts with ids 1..n.
func NewBook(n int) *Book {
	b := &Book{
		attempts:   make(map[int64]int),
		tenants:    make(map[string]int),
		failures:   make(map[int64]error),
		fetchErrAt: make(map[int]error),
	}
	for i := 1; i <= n; i++ {
		b.accounts = append(b.accounts, account.Account{
			ID:              int64(i),
			AccountNumber:   fmt.Sprintf("SA-%06d", i),
			Status:          account.StatusActive,
			Balance:         10_000,
			AccruedInterest: 25,
		})
	}
	return b
}

// FailAccount makes the operation fail for id with err.
func (b *Book) FailAccount(id int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[id] = err
}

// FailFetch makes fetching pageIndex fail with err.
func (b *Book) FailFetch(pageIndex int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErrAt[pageIndex] = err
}

// SetOperationDelay makes every posting sleep for d.
func (b *Book) SetOperationDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opDelay = d
}

// OnFetch registers a hook called before each fetch.
func (b *Book) OnFetch(hook func(pageIndex int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchHook = hook
}

// FetchPage implements account.PageFetcher.
func (b *Book) FetchPage(ctx context.Context, status account.Status, pageIndex, pageSize int) (*account.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageIndex < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("%w: index %d size %d", account.ErrPageOutOfRange, pageIndex, pageSize)
	}

	b.mu.Lock()
	b.fetches = append(b.fetches, pageIndex)
	hook := b.fetchHook
	fetchErr := b.fetchErrAt[pageIndex]
	b.mu.Unlock()

	if hook != nil {
		hook(pageIndex)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var matching []account.Account
	for _, a := range b.accounts {
		if a.Status == status {
			matching = append(matching, a)
		}
	}

	page := &account.Page{
		Index:         pageIndex,
		TotalPages:    account.TotalPagesFor(len(matching), pageSize),
		TotalElements: len(matching),
	}
	start := pageIndex * pageSize
	if start >= len(matching) {
		return page, nil
	}
	end := min(start+pageSize, len(matching))
	page.Accounts = append([]account.Account(nil), matching[start:end]...)
	return page, nil
}

// PostInterest implements account.Operation.
func (b *Book) PostInterest(ctx context.Context, acct *account.Account, _ *time.Time) error {
	tc, err := tenant.FromContext(ctx)

	b.mu.Lock()
	b.attempts[acct.ID]++
	if err == nil {
		b.tenants[tc.ID]++
	}
	fail := b.failures[acct.ID]
	delay := b.opDelay
	b.mu.Unlock()

	if err != nil {
		return err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return fail
	}
	acct.Balance += acct.AccruedInterest
	acct.AccruedInterest = 0
	return nil
}

// Attempts returns the posting attempts per account id.
func (b *Book) Attempts() map[int64]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[int64]int, len(b.attempts))
	for k, v := range b.attempts {
		out[k] = v
	}
	return out
}

// TenantsSeen returns the number of postings observed per tenant id.
func (b *Book) TenantsSeen() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.tenants))
	for k, v := range b.tenants {
		out[k] = v
	}
	return out
}

// Fetches returns the fetched page indexes in call order.
func (b *Book) Fetches() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]int(nil), b.fetches...)
}

// ErrStoreUnavailable is a generic infrastructure error for tests.
var ErrStoreUnavailable = errors.New("store unavailable")

// BusinessFailure wraps message the way a service layer wraps a domain error,
// so the root cause is one level down.
func BusinessFailure(message string) error {
	return fmt.Errorf("post interest: %w", errors.New(message))
}

// MustTenant builds a tenant context or panics.
func MustTenant(id string) tenant.Context {
	tc, err := tenant.New(id, "Tenant "+id, "en", "UTC")
	if err != nil {
		panic(err)
	}
	return tc
}
