package worker

import "errors"

// RetryableError wraps transient errors that should be retried. Only errors
// wrapped with Transient() (or carrying one in their chain) are rescheduled;
// everything else is treated as permanent and goes straight to DLQ.
//
// Use for: connection resets, deadlocks, statement timeouts, storage 5xx,
// throttling. Don't use for: validation failures, invalid procedure
// arguments, authorization errors.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient wraps an error to signal it should be retried with backoff.
func Transient(err error) error {
	return RetryableError{Err: err}
}

// IsRetryable reports whether the error chain carries a transient marker.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}
