//go:build integration

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/savings-batch/pkg/aggregate"
	"github.com/Sternrassler/savings-batch/pkg/config"
	"github.com/Sternrassler/savings-batch/pkg/job"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "start redis container")
	t.Cleanup(func() { redisC.Terminate(ctx) })

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedAndRun_Integration(t *testing.T) {
	t.Setenv("SAVINGS_BATCH_REDIS_ADDR", startRedis(t))
	t.Setenv("SAVINGS_BATCH_THREAD_COUNT", "4")
	t.Setenv("SAVINGS_BATCH_PAGE_SIZE", "500")

	out, err := execute(t, "seed", "--tenant", "acme", "--count", "1210", "--closed", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1210 accounts for tenant acme")

	out, err = execute(t, "run", "--tenant", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS: 3 pages, 1,200 accounts, 1,200 succeeded, 0 failed")

	// A second run on the same tenant-local date is a no-op per account.
	out, err = execute(t, "run", "--tenant", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "1,200 succeeded")

	// Other tenants see nothing.
	out, err = execute(t, "run", "--tenant", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS: 0 pages, 0 accounts")
}

func TestRun_Integration_ReportsFailures(t *testing.T) {
	t.Setenv("SAVINGS_BATCH_REDIS_ADDR", startRedis(t))

	_, err := execute(t, "seed", "--count", "20", "--overdrawn", "2")
	require.NoError(t, err)

	_, err = execute(t, "settings", "set", "--threads", "2", "--page-size", "7")
	require.NoError(t, err)

	out, err := execute(t, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "thread_count=2 page_size=7")

	out, err = execute(t, "run", "--no-lock")
	require.Error(t, err)
	assert.ErrorIs(t, err, aggregate.ErrJobFailed)
	assert.Contains(t, out, "FAILED: 3 pages, 20 accounts, 18 succeeded, 2 failed")
	assert.Contains(t, out, "failed to post interest for Savings with id 1 with message")
	assert.Contains(t, out, "failed to post interest for Savings with id 2 with message")
}

func TestReadyEndpoint_Integration(t *testing.T) {
	t.Setenv("SAVINGS_BATCH_REDIS_ADDR", startRedis(t))

	cfg, err := config.Load()
	require.NoError(t, err)
	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.Close()

	mux := newMux(a.redis, job.NewRunner(a.orchestrator(), job.Config{Tenant: a.tenant}))

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "savings_batch_pages_dispatched_total")
}
