package graph

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError means the store could not be reached at all.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("graph store unreachable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteConflictError means the store rejected a single write, for example
// because a uniqueness constraint was violated by a concurrent transaction.
// Retryable conflicts may succeed if the whole transaction is replayed.
type WriteConflictError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict during %s: %v", e.Op, e.Err)
}

func (e *WriteConflictError) Unwrap() error { return e.Err }

// TransactionError means beginning, committing, or rolling back a transaction
// failed, or its deadline expired.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// InvalidIdentifierError rejects a label, relationship type, or property
// name that cannot be safely placed in statement text.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid graph identifier %q", e.Name)
}

// IsRetryable reports whether err is a conflict worth replaying.
func IsRetryable(err error) bool {
	var conflict *WriteConflictError
	return errors.As(err, &conflict) && conflict.Retryable
}

// deadlineError turns context expiry into a TransactionError so callers see a
// single failure type for timed out transactions.
func deadlineError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransactionError{Op: op, Err: err}
	}
	return nil
}
