package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by operations on an engine that has been shut down.
	ErrShutdown = errors.New("engine has been shut down")

	// ErrEngineFailed is returned by Tick once a previous tick failed fatally.
	ErrEngineFailed = errors.New("engine failed in a previous tick")

	// ErrBarrierBroken is returned by Await when the barrier was broken.
	ErrBarrierBroken = errors.New("barrier broken")
)

// EngineError represents a failure detected while driving a tick.
//
// Engine errors include:
//   - Interrupted: a rendezvous or the settle wait was cancelled
//   - Node panic: a node's update rule panicked inside a worker
//   - Invalid concurrency: the concurrency source reported a count below 1
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Phase names the tick phase that failed (e.g. "rendezvous", "drain").
	Phase string

	// Tick is the number of the tick being driven.
	Tick int64

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInterrupted indicates a wait was abandoned before it completed.
	ErrCodeInterrupted ErrorCode = "INTERRUPTED"

	// ErrCodeNodePanic indicates a node update rule panicked.
	ErrCodeNodePanic ErrorCode = "NODE_PANIC"

	// ErrCodeInvalidConcurrency indicates a concurrency reading below 1.
	ErrCodeInvalidConcurrency ErrorCode = "INVALID_CONCURRENCY"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Phase != "" {
		msg = fmt.Sprintf("%s (tick=%d, phase=%s)", msg, e.Tick, e.Phase)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsInterrupted returns true if the error is an interrupted wait.
// Uses errors.As to handle wrapped errors.
func IsInterrupted(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeInterrupted
	}
	return false
}

// IsNodePanic returns true if the error reports a panicking node rule.
func IsNodePanic(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeNodePanic
	}
	return false
}

// newInterruptedError wraps a failed wait.
func newInterruptedError(tick int64, phase string, err error) *EngineError {
	return &EngineError{
		Code:    ErrCodeInterrupted,
		Message: "wait abandoned before all parties arrived",
		Phase:   phase,
		Tick:    tick,
		Err:     err,
	}
}

// newNodePanicError records a panic raised by a node rule on a worker.
func newNodePanicError(nodeID string, worker int, value any, stack []byte) *EngineError {
	return &EngineError{
		Code:    ErrCodeNodePanic,
		Message: fmt.Sprintf("update rule of node %q panicked: %v", nodeID, value),
		Phase:   "dispense",
		Details: map[string]string{
			"node":   nodeID,
			"worker": fmt.Sprintf("%d", worker),
			"stack":  string(stack),
		},
	}
}

// newInvalidConcurrencyError reports an unusable concurrency reading.
func newInvalidConcurrencyError(n int) *EngineError {
	return &EngineError{
		Code:    ErrCodeInvalidConcurrency,
		Message: fmt.Sprintf("available concurrency must be at least 1, got %d", n),
		Details: map[string]string{"concurrency": fmt.Sprintf("%d", n)},
	}
}
