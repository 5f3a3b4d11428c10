package domain

import "errors"

var (
	// ErrNotFound is returned when a job or transcription id is unknown or expired
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a mutation is not allowed from the job's current status
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrPersistence is returned when a transcription result could not be stored
	ErrPersistence = errors.New("persistence failure")

	// ErrChannelDelivery is returned when a progress message cannot be pushed to a subscriber
	ErrChannelDelivery = errors.New("channel delivery failure")

	// ErrInvalidWordTimestamp is returned when word timing or ordering is inconsistent
	ErrInvalidWordTimestamp = errors.New("invalid word timestamp")

	// ErrInvalidSubmission is returned when a submission is missing required fields
	ErrInvalidSubmission = errors.New("invalid submission")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
