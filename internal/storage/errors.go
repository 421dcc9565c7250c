package storage

import "errors"

var (
	// ErrUsageLogNotFound is returned when a usage log is not found
	ErrUsageLogNotFound = errors.New("usage log not found")

	// ErrUserNotFound is returned when no user matches
	ErrUserNotFound = errors.New("user not found")
)
