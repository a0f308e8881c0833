package domain

import "errors"

var (
	// ErrResultNotFound is returned when a result is absent from the store,
	// either never written or already expired.
	ErrResultNotFound = errors.New("job result not found")

	// ErrInvalidPayload is returned when a job payload cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")
)

// FatalError wraps errors that must abort the worker process instead of
// being captured into a JobResult (executor infrastructure failures).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal worker error: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError creates a new fatal error
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}
