package events

import "errors"

var (
	// ErrBusClosed is returned by Publish once the bus is closed.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrInvalidPayload wraps every ValidatePayload failure.
	ErrInvalidPayload = errors.New("invalid event payload")
)
