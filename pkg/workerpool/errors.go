package workerpool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRejected is matched by every admission rejection.
	ErrRejected = errors.New("task rejected")

	// ErrPoolShutdown is matched by rejections caused by a shut down pool.
	ErrPoolShutdown = errors.New("worker pool has been shut down")

	// ErrTaskPanic wraps a panic recovered from a task.
	ErrTaskPanic = errors.New("task panicked")
)

// RejectReason classifies why a submission was rejected.
type RejectReason string

const (
	// ReasonShutdown means the pool was shut down before or during admission.
	ReasonShutdown RejectReason = "shutdown"

	// ReasonTimeout means the queue stayed full for the whole max wait.
	ReasonTimeout RejectReason = "timeout"

	// ReasonInterrupted means the submitter's context ended while waiting.
	ReasonInterrupted RejectReason = "interrupted"
)

// RejectedError describes a failed submission. It satisfies
// errors.Is(err, ErrRejected), errors.Is(err, ErrPoolShutdown) for shutdown
// rejections, and unwraps to the context error for interrupted waits.
type RejectedError struct {
	Reason   RejectReason
	Waited   time.Duration
	Queued   int
	Capacity int
	Err      error
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	switch e.Reason {
	case ReasonShutdown:
		return "task rejected: executor has been shut down"
	case ReasonTimeout:
		return fmt.Sprintf("task rejected: max wait time %s expired to queue task (len=%d cap=%d)",
			e.Waited, e.Queued, e.Capacity)
	default:
		return fmt.Sprintf("task rejected: interrupted after %s: %v", e.Waited, e.Err)
	}
}

// Is reports sentinel equivalence.
func (e *RejectedError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	return target == ErrPoolShutdown && e.Reason == ReasonShutdown
}

// Unwrap returns the interrupting context error, if any.
func (e *RejectedError) Unwrap() error {
	return e.Err
}
