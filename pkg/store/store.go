// Package store is the Redis-backed savings account store. It serves pages of
// accounts by status and applies interest postings.
//
// Every key is scoped by the tenant carried in the request context:
//
//	savings:<tenant>:account:<id>        hash   account fields
//	savings:<tenant>:accounts:<status>   zset   account ids scored by id
//
// A context without a tenant is rejected with tenant.ErrNoTenant.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/account"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

// ErrAccountNotFound is returned when an account hash does not exist.
var ErrAccountNotFound = errors.New("savings account not found")

const dateLayout = "2006-01-02"

// Business error codes raised by PostInterest.
const (
	CodeNotActive       = "error.msg.savingsaccount.transaction.account.is.not.active"
	CodeNegativeBalance = "error.msg.savingsaccount.transaction.insufficient.account.balance"
	CodeConcurrentWrite = "error.msg.savingsaccount.concurrent.modification"
)

// Store reads and writes savings accounts in Redis.
type Store struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// New creates a store.
func New(redisClient *redis.Client, logger zerolog.Logger) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{redis: redisClient, logger: logger}
}

func accountKey(tenantID string, id int64) string {
	return fmt.Sprintf("savings:%s:account:%d", tenantID, id)
}

func statusKey(tenantID string, status account.Status) string {
	return fmt.Sprintf("savings:%s:accounts:%d", tenantID, int(status))
}

func tenantID(ctx context.Context) (string, error) {
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		return "", err
	}
	return tc.ID, nil
}

// FetchPage implements account.PageFetcher. Accounts are ordered by id.
// A page index past the end yields an empty page carrying the live totals.
func (s *Store) FetchPage(ctx context.Context, status account.Status, pageIndex, pageSize int) (*account.Page, error) {
	if pageIndex < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("%w: index %d size %d", account.ErrPageOutOfRange, pageIndex, pageSize)
	}
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}

	start := int64(pageIndex) * int64(pageSize)
	stop := start + int64(pageSize) - 1

	pipe := s.redis.Pipeline()
	countCmd := pipe.ZCard(ctx, statusKey(tid, status))
	idsCmd := pipe.ZRange(ctx, statusKey(tid, status), start, stop)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", pageIndex, err)
	}

	total := int(countCmd.Val())
	page := &account.Page{
		Index:         pageIndex,
		TotalPages:    account.TotalPagesFor(total, pageSize),
		TotalElements: total,
	}

	ids := idsCmd.Val()
	if len(ids) == 0 {
		return page, nil
	}

	pipe = s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse account id %q: %w", raw, err)
		}
		cmds[i] = pipe.HGetAll(ctx, accountKey(tid, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load page %d accounts: %w", pageIndex, err)
	}

	page.Accounts = make([]account.Account, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Index entry without a hash: skipped rather than failing the page.
			s.logger.Warn().
				Str("tenant", tid).
				Str("account_id", ids[i]).
				Msg("Status index references missing account")
			continue
		}
		acct, err := decode(fields)
		if err != nil {
			return nil, fmt.Errorf("decode account %s: %w", ids[i], err)
		}
		page.Accounts = append(page.Accounts, acct)
	}

	return page, nil
}

// Get loads one account.
func (s *Store) Get(ctx context.Context, id int64) (*account.Account, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := s.redis.HGetAll(ctx, accountKey(tid, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrAccountNotFound, id)
	}
	acct, err := decode(fields)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Put writes an account and keeps the status index consistent.
func (s *Store) Put(ctx context.Context, acct *account.Account) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}

	prev, err := s.redis.HGet(ctx, accountKey(tid, acct.ID), "status").Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis hget: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != 0 && account.Status(prev) != acct.Status {
			pipe.ZRem(ctx, statusKey(tid, account.Status(prev)), acct.ID)
		}
		pipe.HSet(ctx, accountKey(tid, acct.ID), encode(acct))
		pipe.ZAdd(ctx, statusKey(tid, acct.Status), redis.Z{Score: float64(acct.ID), Member: acct.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store account %d: %w", acct.ID, err)
	}
	return nil
}

// AssignHelpers implements account.Assembler. It refreshes the account from
// Redis so the operation works on current balances even when the page was
// fetched long before its task ran.
func (s *Store) AssignHelpers(ctx context.Context, acct *account.Account) error {
	fresh, err := s.Get(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("assign helpers: %w", err)
	}
	fresh.Helpers = map[string]string{
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}
	*acct = *fresh
	return nil
}

// PostInterest implements account.Operation: it moves accrued interest into
// the balance and stamps the posting date. A nil asOf posts as of the tenant's
// current date. Posting twice for the same date is a no-op.
func (s *Store) PostInterest(ctx context.Context, acct *account.Account, asOf *time.Time) error {
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	postedOn := tc.Today()
	if asOf != nil {
		postedOn = *asOf
	}

	key := accountKey(tc.ID, acct.ID)
	var updated account.Account

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return fmt.Errorf("%w: id %d", ErrAccountNotFound, acct.ID)
		}
		cur, err := decode(fields)
		if err != nil {
			return err
		}

		if cur.Status != account.StatusActive {
			return &account.BusinessError{
				Code:    CodeNotActive,
				Message: fmt.Sprintf("account %s is %s", cur.AccountNumber, cur.Status),
			}
		}
		if !cur.LastPostedOn.IsZero() && cur.LastPostedOn.Format(dateLayout) == postedOn.Format(dateLayout) {
			updated = cur
			return nil
		}
		if cur.Balance+cur.AccruedInterest < 0 {
			return &account.BusinessError{
				Code:    CodeNegativeBalance,
				Message: fmt.Sprintf("posting would leave balance %d", cur.Balance+cur.AccruedInterest),
			}
		}

		cur.Balance += cur.AccruedInterest
		cur.AccruedInterest = 0
		cur.LastPostedOn = postedOn

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encode(&cur))
			return nil
		})
		updated = cur
		return err
	}

	if err := s.redis.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return concurrentWriteError(err)
		}
		return fmt.Errorf("post interest for account %d: %w", acct.ID, err)
	}

	helpers := acct.Helpers
	*acct = updated
	acct.Helpers = helpers
	return nil
}

// concurrentWriteError keeps the Redis failure in the message only, so the
// business code is what a single unwrap reports.
func concurrentWriteError(err error) *account.BusinessError {
	return &account.BusinessError{
		Code:    CodeConcurrentWrite,
		Message: "account modified during posting: " + err.Error(),
	}
}

func encode(a *account.Account) map[string]any {
	m := map[string]any{
		"id":               a.ID,
		"account_number":   a.AccountNumber,
		"status":           int(a.Status),
		"balance":          a.Balance,
		"accrued_interest": a.AccruedInterest,
		"last_posted_on":   "",
	}
	if !a.LastPostedOn.IsZero() {
		m["last_posted_on"] = a.LastPostedOn.Format(dateLayout)
	}
	return m
}

func decode(fields map[string]string) (account.Account, error) {
	var a account.Account
	var err error

	if a.ID, err = strconv.ParseInt(fields["id"], 10, 64); err != nil {
		return a, fmt.Errorf("parse id: %w", err)
	}
	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return a, fmt.Errorf("parse status: %w", err)
	}
	a.Status = account.Status(status)
	a.AccountNumber = fields["account_number"]
	if a.Balance, err = strconv.ParseInt(fields["balance"], 10, 64); err != nil {
		return a, fmt.Errorf("parse balance: %w", err)
	}
	if v := fields["accrued_interest"]; v != "" {
		if a.AccruedInterest, err = strconv.ParseInt(v, 10, 64); err != nil {
			return a, fmt.Errorf("parse accrued interest: %w", err)
		}
	}
	if v := fields["last_posted_on"]; v != "" {
		if a.LastPostedOn, err = time.Parse(dateLayout, v); err != nil {
			return a, fmt.Errorf("parse last posted on: %w", err)
		}
	}
	return a, nil
}
