package queue

import "errors"

var (
	// ErrNotFound is returned when no job has the requested id
	ErrNotFound = errors.New("job not found")
	// ErrDuplicate is returned when an active job already holds the dedupe key
	ErrDuplicate = errors.New("active job with the same dedupe key exists")
	// ErrUnknownJobType is returned for job types without a payload or handler
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrInvalidPayload is returned when a payload cannot be decoded or validated
	ErrInvalidPayload = errors.New("invalid payload")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Fail moves jobs that return a
// permanent error straight to failed.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
