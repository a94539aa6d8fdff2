package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateEvent means an event with the same idempotency key was
	// already accepted. Callers should treat it as success, not failure.
	ErrDuplicateEvent = errors.New("duplicate event")
	ErrNotFound       = errors.New("not found")

	// ErrMalformedQueueItem means a queue entry was consumed but could not
	// be decoded. The entry is gone; there is nothing to retry.
	ErrMalformedQueueItem = errors.New("malformed queue item")
)

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// TransportError is a network-level delivery failure: timeout, DNS,
// refused connection. Any HTTP response, whatever its status, is not one.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("delivering to %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure of an underlying store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
