package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/savings-batch/internal/testutil"
	"github.com/Sternrassler/savings-batch/pkg/aggregate"
	"github.com/Sternrassler/savings-batch/pkg/processor"
	"github.com/Sternrassler/savings-batch/pkg/settings"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
	"github.com/Sternrassler/savings-batch/pkg/workerpool"
)

func newOrchestrator(book *testutil.Book, threads, pageSize int, maxWait time.Duration) *Orchestrator {
	proc := processor.New(book, processor.WithLogger(zerolog.Nop()))
	src := settings.Static{ThreadCount: threads, PageSize: pageSize, MaxAdmissionWait: maxWait}
	return New(book, proc, src, DefaultConfig()).WithLogger(zerolog.Nop())
}

func tenantCtx(id string) context.Context {
	return tenant.WithContext(context.Background(), testutil.MustTenant(id))
}

func TestRun_ThreePagesSucceed(t *testing.T) {
	book := testutil.NewBook(1200)
	orch := newOrchestrator(book, 4, 500, time.Minute)

	outcome, err := orch.Run(tenantCtx("default"))

	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.Pages)
	assert.Equal(t, 1200, outcome.Processed)
	assert.Equal(t, 1200, outcome.Succeeded)
	assert.Empty(t, outcome.Report)
	assert.Equal(t, []int{0, 1, 2}, book.Fetches())
}

func TestRun_SingleFailureOnSecondPage(t *testing.T) {
	book := testutil.NewBook(1200)
	book.FailAccount(750, testutil.BusinessFailure("insufficient account balance"))
	orch := newOrchestrator(book, 4, 500, time.Minute)

	outcome, err := orch.Run(tenantCtx("default"))

	require.Error(t, err)
	assert.ErrorIs(t, err, aggregate.ErrJobFailed)
	assert.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 1199, outcome.Succeeded)
	assert.Equal(t,
		"failed to post interest for Savings with id 750 with message insufficient account balance\n",
		outcome.Report)

	var jerr *aggregate.JobError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, outcome, jerr.Outcome)

	for id, n := range book.Attempts() {
		assert.Equal(t, 1, n, "account %d", id)
	}
}

func TestRun_ZeroAccounts(t *testing.T) {
	book := testutil.NewBook(0)
	orch := newOrchestrator(book, 4, 500, time.Minute)

	outcome, err := orch.Run(tenantCtx("default"))

	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Zero(t, outcome.Pages)
	assert.Empty(t, book.Attempts())
	assert.Equal(t, []int{0}, book.Fetches())
}

func TestRun_AllAccountsFail(t *testing.T) {
	book := testutil.NewBook(40)
	for id := int64(1); id <= 40; id++ {
		book.FailAccount(id, errors.New("account is not active"))
	}
	orch := newOrchestrator(book, 3, 7, time.Minute)

	outcome, err := orch.Run(tenantCtx("default"))

	require.Error(t, err)
	assert.Equal(t, 40, outcome.Failed)
	assert.Zero(t, outcome.Truncated)
	for id := int64(1); id <= 40; id++ {
		assert.Contains(t, outcome.Report, fmt.Sprintf("Savings with id %d with", id))
	}
}

func TestRun_EveryAccountAttemptedExactlyOnce(t *testing.T) {
	tests := []struct {
		accounts, pageSize, threads int
	}{
		{1, 1, 1},
		{7, 3, 1},
		{7, 3, 8},
		{500, 500, 2},
		{1001, 100, 4},
		{1001, 1, 8},
		{250, 1000, 3},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("n=%d/p=%d/t=%d", tt.accounts, tt.pageSize, tt.threads)
		t.Run(name, func(t *testing.T) {
			book := testutil.NewBook(tt.accounts)
			orch := newOrchestrator(book, tt.threads, tt.pageSize, time.Minute)

			outcome, err := orch.Run(tenantCtx("default"))

			require.NoError(t, err)
			assert.Equal(t, tt.accounts, outcome.Processed)

			attempts := book.Attempts()
			assert.Len(t, attempts, tt.accounts)
			for id, n := range attempts {
				assert.Equal(t, 1, n, "account %d", id)
			}
		})
	}
}

func TestRun_TasksObserveCapturedTenant(t *testing.T) {
	var wg sync.WaitGroup
	books := map[string]*testutil.Book{
		"alpha": testutil.NewBook(300),
		"beta":  testutil.NewBook(200),
	}

	for id, book := range books {
		wg.Add(1)
		go func(id string, book *testutil.Book) {
			defer wg.Done()
			_, err := newOrchestrator(book, 4, 10, time.Minute).Run(tenantCtx(id))
			assert.NoError(t, err)
		}(id, book)
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"alpha": 300}, books["alpha"].TenantsSeen())
	assert.Equal(t, map[string]int{"beta": 200}, books["beta"].TenantsSeen())
}

func TestRun_WithoutTenantFails(t *testing.T) {
	book := testutil.NewBook(10)
	_, err := newOrchestrator(book, 1, 5, time.Minute).Run(context.Background())

	assert.ErrorIs(t, err, tenant.ErrNoTenant)
	assert.Empty(t, book.Fetches())
}

func TestRun_InvalidSettingsFail(t *testing.T) {
	book := testutil.NewBook(10)
	_, err := newOrchestrator(book, 0, 5, time.Minute).Run(tenantCtx("default"))

	assert.ErrorIs(t, err, settings.ErrInvalidSettings)
	assert.Empty(t, book.Fetches())
}

func TestRun_FetchErrorAbortsAfterDraining(t *testing.T) {
	book := testutil.NewBook(50)
	book.FailFetch(3, testutil.ErrStoreUnavailable)
	orch := newOrchestrator(book, 2, 10, time.Minute)

	outcome, err := orch.Run(tenantCtx("default"))

	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, aggregate.ErrJobFailed)

	var aerr *AbortError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 3, aerr.Page)
	assert.Equal(t, 3, aerr.Partial.Pages)
	assert.Equal(t, 30, aerr.Partial.Processed)
	assert.Equal(t, outcome, aerr.Partial)
	assert.Len(t, book.Attempts(), 30)
}

func TestRun_AdmissionTimeoutAborts(t *testing.T) {
	book := testutil.NewBook(10)
	book.SetOperationDelay(100 * time.Millisecond)
	orch := newOrchestrator(book, 1, 1, 20*time.Millisecond)

	_, err := orch.Run(tenantCtx("default"))

	require.Error(t, err)
	assert.ErrorIs(t, err, workerpool.ErrRejected)

	var rerr *workerpool.RejectedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, workerpool.ReasonTimeout, rerr.Reason)

	var aerr *AbortError
	require.ErrorAs(t, err, &aerr)
	// One page running and one queued were admitted and drained.
	assert.Equal(t, 2, aerr.Partial.Pages)
	assert.Len(t, book.Attempts(), aerr.Partial.Processed)
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	book := testutil.NewBook(100)
	ctx, cancel := context.WithCancel(tenantCtx("default"))
	defer cancel()
	book.OnFetch(func(pageIndex int) {
		if pageIndex == 1 {
			cancel()
		}
	})
	orch := newOrchestrator(book, 2, 10, time.Minute)

	_, err := orch.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var aerr *AbortError
	require.ErrorAs(t, err, &aerr)
	// Pages admitted before cancellation still complete.
	assert.Equal(t, aerr.Partial.Processed, len(book.Attempts()))
	assert.LessOrEqual(t, aerr.Partial.Pages, 2)
	assert.NotContains(t, book.Fetches(), 2)
}

func TestOrchestrator_ExecuteAndName(t *testing.T) {
	book := testutil.NewBook(5)
	book.FailAccount(2, errors.New("boom"))
	orch := newOrchestrator(book, 1, 2, time.Minute)

	assert.Equal(t, JobName, orch.Name())
	assert.ErrorIs(t, orch.Execute(tenantCtx("default")), aggregate.ErrJobFailed)
}

func TestAbortError_Message(t *testing.T) {
	err := &AbortError{
		Page:  4,
		Cause: testutil.ErrStoreUnavailable,
		Partial: aggregate.JobOutcome{
			Pages:  4,
			Failed: 1,
			Report: "failed to post interest for Savings with id 9 with message x\n",
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "job aborted at page 4: store unavailable")
	assert.Contains(t, msg, "1 account failures")
	assert.Contains(t, msg, "Savings with id 9")
}
