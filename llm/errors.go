package llm

import "errors"

// classifiedError tags an error as retryable or not. Callers only ever see
// it through IsTransient and IsFatal.
type classifiedError struct {
	err       error
	transient bool
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &classifiedError{err: err, transient: true}
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &classifiedError{err: err}
}

// IsTransient returns true if the error may succeed on retry.
func IsTransient(err error) bool {
	var classified *classifiedError
	return errors.As(err, &classified) && classified.transient
}

// IsFatal returns true if the error should not be retried.
func IsFatal(err error) bool {
	var classified *classifiedError
	return errors.As(err, &classified) && !classified.transient
}
