// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the caller supplied malformed input.
var ErrValidation = errors.New("validation failed")

// ErrInvalidTransition indicates the task state machine rejected a move.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrCapacityExceeded indicates the store reached its configured task limit.
var ErrCapacityExceeded = errors.New("task store capacity exceeded")

// ErrAnalysisTimeout is the cancellation cause when an analysis outlives its deadline.
var ErrAnalysisTimeout = errors.New("analysis timed out")

// ErrCanceled is the cancellation cause for an explicit cancel request.
var ErrCanceled = errors.New("canceled by request")

// ErrShutdown is the cancellation cause when the process is stopping.
var ErrShutdown = errors.New("service shutting down")

// ErrTaskActive indicates an operation that requires a terminal task was
// attempted on one that is still running.
var ErrTaskActive = errors.New("task is not terminal")

// ErrIDRetired indicates a caller-supplied id belonged to a task that was
// already removed by retention. Ids are never reused.
var ErrIDRetired = errors.New("task id retired")
