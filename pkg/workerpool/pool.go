// Package workerpool provides a fixed-size worker pool with a bounded
// admission queue and a caller-blocks admission policy.
//
// When every worker is busy and the queue is full, Submit blocks the caller
// until a slot frees up, the pool is shut down, the caller's context ends or
// MaxWait elapses. Memory is therefore bounded by Workers+QueueSize tasks and
// a fast producer is slowed to the pace of the workers instead of queuing
// without limit.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/logging"
)

// DefaultMaxWait is the admission ceiling used when Config.MaxWait is unset.
// It is effectively unbounded for a daily job but still finite.
const DefaultMaxWait = 23 * time.Hour

// Task is a unit of work run by the pool.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Config holds pool configuration.
type Config struct {
	// Name labels metrics and logs.
	Name string

	// Workers is the fixed number of concurrent workers.
	Workers int

	// QueueSize is the admission queue capacity (default: Workers).
	QueueSize int

	// MaxWait bounds how long Submit blocks on a saturated pool (default: DefaultMaxWait).
	MaxWait time.Duration

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// Handle tracks one submitted task.
type Handle struct {
	seq  uint64
	done chan struct{}
	err  error
}

// Seq returns the submission sequence number. Sequence numbers increase
// monotonically in submission order; rejected submissions leave gaps.
func (h *Handle) Seq() uint64 { return h.seq }

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task error. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queuedTask struct {
	ctx    context.Context
	task   Task
	handle *Handle
}

// Pool executes tasks on a fixed set of worker goroutines.
type Pool struct {
	cfg    Config
	logger zerolog.Logger
	queue  chan queuedTask

	mu         sync.Mutex
	closed     bool
	done       chan struct{}
	submitting sync.WaitGroup
	workers    sync.WaitGroup

	seq atomic.Uint64
}

// New starts a pool with cfg.Workers workers.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	logger := logging.NewLogger("workerpool")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger.With().Str("pool", cfg.Name).Logger(),
		queue:  make(chan queuedTask, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}

	p.logger.Debug().
		Int("workers", cfg.Workers).
		Int("queue_size", cfg.QueueSize).
		Dur("max_wait", cfg.MaxWait).
		Msg("Worker pool started")

	return p
}

// Capacity returns the maximum number of tasks that can be admitted but not
// yet finished: running workers plus queued tasks.
func (p *Pool) Capacity() int {
	return p.cfg.Workers + p.cfg.QueueSize
}

// Submit admits task for execution.
//
//   - Returns a Handle on success.
//   - Returns a *RejectedError with ReasonShutdown immediately if the pool is
//     shut down, or if it is shut down while the caller waits.
//   - Blocks while the pool is saturated; returns ReasonTimeout after MaxWait.
//   - Returns ReasonInterrupted wrapping ctx.Err() if ctx ends while waiting.
//
// ctx is also passed to the task when it runs.
func (p *Pool) Submit(ctx context.Context, task Task) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, p.reject(ReasonShutdown, 0, nil)
	}
	p.submitting.Add(1)
	p.mu.Unlock()
	defer p.submitting.Done()

	h := &Handle{seq: p.seq.Add(1), done: make(chan struct{})}
	qt := queuedTask{ctx: ctx, task: task, handle: h}

	// Fast path: a queue slot is free.
	select {
	case p.queue <- qt:
		p.admitted()
		return h, nil
	default:
	}

	blockedSubmissionsTotal.WithLabelValues(p.cfg.Name).Inc()
	p.logger.Debug().
		Dur("max_wait", p.cfg.MaxWait).
		Msg("Pool saturated, attempting to queue task")

	start := time.Now()
	timer := time.NewTimer(p.cfg.MaxWait)
	defer timer.Stop()

	select {
	case p.queue <- qt:
		admissionWaitSeconds.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())
		p.admitted()
		p.logger.Debug().Dur("waited", time.Since(start)).Msg("Task execution queued")
		return h, nil
	case <-p.done:
		return nil, p.reject(ReasonShutdown, time.Since(start), nil)
	case <-ctx.Done():
		return nil, p.reject(ReasonInterrupted, time.Since(start), ctx.Err())
	case <-timer.C:
		return nil, p.reject(ReasonTimeout, time.Since(start), nil)
	}
}

// Shutdown stops admission, lets queued tasks drain and waits for every
// worker to exit. It is idempotent and safe for concurrent use.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.workers.Wait()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	// Waiting submitters observe done and leave; after that nobody sends.
	p.submitting.Wait()
	close(p.queue)
	p.workers.Wait()
	queueDepth.WithLabelValues(p.cfg.Name).Set(0)

	p.logger.Debug().Msg("Worker pool stopped, all queued tasks drained")
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close lets Pool satisfy io.Closer.
func (p *Pool) Close() error {
	p.Shutdown()
	return nil
}

func (p *Pool) admitted() {
	submissionsTotal.WithLabelValues(p.cfg.Name).Inc()
	queueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
}

func (p *Pool) reject(reason RejectReason, waited time.Duration, err error) error {
	rejectionsTotal.WithLabelValues(p.cfg.Name, string(reason)).Inc()
	rerr := &RejectedError{
		Reason:   reason,
		Waited:   waited,
		Queued:   len(p.queue),
		Capacity: cap(p.queue),
		Err:      err,
	}
	p.logger.Warn().
		Str("reason", string(reason)).
		Dur("waited", waited).
		Msg("Task submission rejected")
	return rerr
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()
	tasksRun := 0

	for qt := range p.queue {
		queueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))

		start := time.Now()
		err := p.runTask(id, qt)
		taskDurationSeconds.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())

		qt.handle.err = err
		close(qt.handle.done)
		tasksRun++
	}

	if tasksRun > 0 {
		p.logger.Debug().
			Int("worker_id", id).
			Int("tasks_run", tasksRun).
			Msg("Worker completed")
	}
}

// runTask shields the worker from a panicking task.
func (p *Pool) runTask(id int, qt queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", id).
				Uint64("task", qt.handle.seq).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return qt.task.Run(qt.ctx)
}
