package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt is returned when a request has no prompt text
	ErrEmptyPrompt = errors.New("prompt is required")

	// ErrMalformedResponse is returned when the completion API answers with a
	// body that has no choices array
	ErrMalformedResponse = errors.New("malformed completion response")

	// ErrStreamClosed is returned by Recv after Close
	ErrStreamClosed = errors.New("stream closed")
)

// APIError is a non-success HTTP status from the completion API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Message)
}
