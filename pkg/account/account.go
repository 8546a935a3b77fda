// Package account defines the savings account model and the collaborator
// contracts the batch core consumes: a paginated fetcher, the per-account
// interest operation and an optional helper assembler.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle status code of a savings account.
type Status int

// Status codes.
const (
	StatusInvalid   Status = 0
	StatusSubmitted Status = 100
	StatusApproved  Status = 200
	StatusActive    Status = 300
	StatusClosed    Status = 600
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusApproved:
		return "APPROVED"
	case StatusActive:
		return "ACTIVE"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("INVALID(%d)", int(s))
	}
}

// Account is a savings account as held by the batch for the duration of one task.
// Money is held in minor units (cents).
type Account struct {
	ID              int64     `json:"id"`
	AccountNumber   string    `json:"account_number"`
	Status          Status    `json:"status"`
	Balance         int64     `json:"balance"`
	AccruedInterest int64     `json:"accrued_interest"`
	LastPostedOn    time.Time `json:"last_posted_on,omitempty"`

	// Helpers is populated by an Assembler before the operation runs.
	Helpers map[string]string `json:"-"`
}

// Page is one bounded, ordered batch of accounts returned by a single fetch.
type Page struct {
	// Index is the zero-based page index.
	Index int

	// TotalPages is the store's live page count for the query.
	TotalPages int

	// TotalElements is the store's live element count for the query.
	TotalElements int

	// Accounts in store order.
	Accounts []Account
}

// Len returns the number of accounts in the page.
func (p *Page) Len() int { return len(p.Accounts) }

// TotalPagesFor returns the number of pages of size pageSize needed for total elements.
func TotalPagesFor(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// ErrPageOutOfRange is returned by fetchers for an invalid page index or size.
var ErrPageOutOfRange = errors.New("page out of range")

// PageFetcher retrieves one page of accounts with a given status.
type PageFetcher interface {
	FetchPage(ctx context.Context, status Status, pageIndex, pageSize int) (*Page, error)
}

// Operation is the state-mutating business operation applied to each account.
// A nil asOf means the natural processing date is used.
type Operation interface {
	PostInterest(ctx context.Context, acct *Account, asOf *time.Time) error
}

// Assembler attaches computed helpers to an account before the operation runs.
type Assembler interface {
	AssignHelpers(ctx context.Context, acct *Account) error
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, acct *Account, asOf *time.Time) error

// PostInterest implements Operation.
func (f OperationFunc) PostInterest(ctx context.Context, acct *Account, asOf *time.Time) error {
	return f(ctx, acct, asOf)
}

// BusinessError is a business-rule violation raised by an Operation.
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BusinessError) Unwrap() error {
	return e.Err
}
