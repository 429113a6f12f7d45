package decision

import (
	"errors"
	"fmt"
)

// ErrNotPending is returned when accepting or rejecting a proposal that
// has already left PENDING.
var ErrNotPending = errors.New("proposal is not pending")

// RetryableError wraps a persistence failure. Retrying the same call is
// safe because idempotency guards are re-checked against the store.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError. It returns nil for a nil err.
func Retryable(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return err
	}
	return &RetryableError{Op: op, Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
