package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

type recordingJob struct {
	calls   atomic.Int32
	mu      sync.Mutex
	tenants []string
	err     error
	block   chan struct{}
}

func (j *recordingJob) Name() string { return "recording" }

func (j *recordingJob) Execute(ctx context.Context) error {
	j.calls.Add(1)
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.tenants = append(j.tenants, tc.ID)
	j.mu.Unlock()

	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

// memLock is an in-process Locker.
type memLock struct {
	mu       sync.Mutex
	held     map[string]func()
	released int
}

func (l *memLock) TryLock(_ context.Context, name string, onLost func()) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]func())
	}
	if _, ok := l.held[name]; ok {
		return nil, ErrNotLeader
	}
	if onLost == nil {
		onLost = func() {}
	}
	l.held[name] = onLost
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		l.released++
		return nil
	}, nil
}

// expire drops the named lock as if its lease ran out and reports whether it was held.
func (l *memLock) expire(name string) bool {
	l.mu.Lock()
	onLost, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()
	if ok {
		onLost()
	}
	return ok
}

func testRunner(j Job, cfg Config) *Runner {
	nop := zerolog.Nop()
	cfg.Logger = &nop
	if cfg.Tenant.ID == "" {
		tc, _ := tenant.New("default", "Default", "en", "UTC")
		cfg.Tenant = tc
	}
	return NewRunner(j, cfg)
}

func TestRunner_RunOnceInstallsTenant(t *testing.T) {
	j := &recordingJob{}
	r := testRunner(j, Config{})

	require.NoError(t, r.RunOnce(context.Background()))
	assert.Equal(t, []string{"default"}, j.tenants)

	at, err := r.LastResult()
	assert.NoError(t, err)
	assert.False(t, at.IsZero())
}

func TestRunner_RunOnceReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	r := testRunner(&recordingJob{err: boom}, Config{})

	assert.ErrorIs(t, r.RunOnce(context.Background()), boom)
	_, err := r.LastResult()
	assert.ErrorIs(t, err, boom)
}

func TestRunner_SkipsWhenNotLeader(t *testing.T) {
	lock := &memLock{}
	release, err := lock.TryLock(context.Background(), "recording", nil)
	require.NoError(t, err)

	j := &recordingJob{}
	r := testRunner(j, Config{Locker: lock})

	assert.ErrorIs(t, r.RunOnce(context.Background()), ErrNotLeader)
	assert.Zero(t, j.calls.Load())

	require.NoError(t, release(context.Background()))
	require.NoError(t, r.RunOnce(context.Background()))
	assert.EqualValues(t, 1, j.calls.Load())
	assert.Equal(t, 2, lock.released)
}

func TestRunner_LostLockCancelsRun(t *testing.T) {
	lock := &memLock{}
	j := &recordingJob{block: make(chan struct{})}
	r := testRunner(j, Config{Locker: lock})

	errCh := make(chan error, 1)
	go func() { errCh <- r.RunOnce(context.Background()) }()

	require.Eventually(t, func() bool { return j.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, lock.expire("recording"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run kept going after the lock was lost")
	}
	_, err := r.LastResult()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_StartRunsImmediatelyAndOnInterval(t *testing.T) {
	j := &recordingJob{}
	r := testRunner(j, Config{Interval: 20 * time.Millisecond})

	r.Start()
	r.Start() // no-op
	assert.True(t, r.IsRunning())

	assert.Eventually(t, func() bool { return j.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop() // no-op
	assert.False(t, r.IsRunning())

	calls := j.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, j.calls.Load(), "no runs after Stop")
}

func TestRunner_StopCancelsRunInProgress(t *testing.T) {
	j := &recordingJob{block: make(chan struct{})}
	r := testRunner(j, Config{Interval: time.Hour})

	r.Start()
	require.Eventually(t, func() bool { return j.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running job")
	}
	_, err := r.LastResult()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_InitialDelay(t *testing.T) {
	j := &recordingJob{}
	r := testRunner(j, Config{Interval: time.Hour, InitialDelay: time.Hour})

	r.Start()
	time.Sleep(20 * time.Millisecond)
	r.Stop()

	assert.Zero(t, j.calls.Load())
}
