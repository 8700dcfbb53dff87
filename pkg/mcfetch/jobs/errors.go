package jobs

import "errors"

// ErrInterrupted is reported by a job that stopped because its transfer was paused or failed
// elsewhere. It is neither retried nor counted as a failure by a Batch.
var ErrInterrupted = errors.New("interrupted")

// RetryableError marks an error as transient: the pool runs the job again after its backoff.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// FatalError marks an error that no number of retries will fix.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &FatalError{Err: err}
}

// IsRetryable is true when err, or anything it wraps, is a RetryableError and nothing closer
// to the top marks it fatal.
func IsRetryable(err error) bool {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}

	var retryable *RetryableError
	return errors.As(err, &retryable)
}
