// Package errs defines the challenge/revert engine's external error
// taxonomy (spec §7). Every error the core returns across its public
// boundary is one of these kinds, returned as the *XxxError value itself
// rather than wrapped in further context.
package errs

import "fmt"

// NotFoundError reports that a requested block, transaction, withdrawal or
// checkpoint does not exist.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.What)
}

// NotFound constructs a NotFoundError.
func NotFound(what string) error {
	return &NotFoundError{What: what}
}

// InvalidTargetError reports that a ChallengeTarget does not describe a
// real, addressable transaction or withdrawal within the given block.
type InvalidTargetError struct {
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid challenge target: %s", e.Reason)
}

// InvalidTarget constructs an InvalidTargetError.
func InvalidTarget(reason string) error {
	return &InvalidTargetError{Reason: reason}
}

// ExecutionFailedError reports that the external Executor returned an error
// while re-running a transaction.
type ExecutionFailedError struct {
	Reason string
	Cause  error
}

func (e *ExecutionFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("execution failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("execution failed: %s", e.Reason)
}

func (e *ExecutionFailedError) Unwrap() error {
	return e.Cause
}

// ExecutionFailed constructs an ExecutionFailedError.
func ExecutionFailed(reason string, cause error) error {
	return &ExecutionFailedError{Reason: reason, Cause: cause}
}

// InconsistentError reports that a recomputed checkpoint does not match the
// one recorded on-chain — the core's most serious failure mode: it means
// either local state has diverged from the submitted block, or the block
// producer submitted a bad checkpoint. Spec §7 requires this be surfaced
// loudly (an operator alert), never silently retried.
type InconsistentError struct {
	Context  string
	Expected interface{}
	Got      interface{}
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("inconsistent state at %s: expected %v, got %v", e.Context, e.Expected, e.Got)
}

// Inconsistent constructs an InconsistentError.
func Inconsistent(context string, expected, got interface{}) error {
	return &InconsistentError{Context: context, Expected: expected, Got: got}
}

// StorageError wraps a failure from the backing store (bbolt, the SMT
// store) that is unrelated to the rollup's logical state.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Storage constructs a StorageError.
func Storage(op string, cause error) error {
	return &StorageError{Op: op, Cause: cause}
}

// CancelledError reports that a caller-supplied cancellation signal fired
// before a build completed.
type CancelledError struct{}

func (e *CancelledError) Error() string {
	return "build cancelled"
}

// Cancelled is the singleton CancelledError value.
var Cancelled error = &CancelledError{}
