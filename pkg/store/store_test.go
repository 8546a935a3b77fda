package store

import (
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/savings-batch/pkg/account"
	"github.com/Sternrassler/savings-batch/pkg/processor"
)

func TestEncodeDecode(t *testing.T) {
	in := account.Account{
		ID:              12,
		AccountNumber:   "SA000012",
		Status:          account.StatusActive,
		Balance:         150000,
		AccruedInterest: 312,
		LastPostedOn:    time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
	}

	fields := map[string]string{}
	for k, v := range encode(&in) {
		fields[k] = toString(v)
	}

	out, err := decode(fields)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"missing id", map[string]string{"status": "300", "balance": "0"}},
		{"bad status", map[string]string{"id": "1", "status": "x", "balance": "0"}},
		{"bad balance", map[string]string{"id": "1", "status": "300", "balance": "1.5"}},
		{"bad date", map[string]string{"id": "1", "status": "300", "balance": "0", "last_posted_on": "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(tt.fields)
			assert.Error(t, err)
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "savings:acme:account:7", accountKey("acme", 7))
	assert.Equal(t, "savings:acme:accounts:300", statusKey("acme", account.StatusActive))
}

func TestNew_PanicsOnNilClient(t *testing.T) {
	assert.Panics(t, func() { New(nil, nopLogger()) })
}

func TestConcurrentWriteError_KeepsCodeThroughRootCause(t *testing.T) {
	err := processor.RootCause(concurrentWriteError(redis.TxFailedErr))

	var berr *account.BusinessError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, CodeConcurrentWrite, berr.Code)
	assert.Contains(t, err.Error(), "transaction failed")
	assert.Contains(t, err.Error(), CodeConcurrentWrite)
}
