package queue

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrJobNotFound is returned when a job ID is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a job is not in the state an
	// operation requires, e.g. retrying a job that has not failed
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrInvalidStatus is returned for unknown status names
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrQueueNotFound is returned by the registry for unknown queue names
	ErrQueueNotFound = errors.New("queue not found")
)
