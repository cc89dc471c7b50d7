package eventlog

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrentAppend is returned by a backend when the sequence number
	// being written already exists for the session.
	ErrConcurrentAppend = errors.New("eventlog: concurrent append")

	// ErrLockTimeout is returned when the per-session append lock cannot
	// be acquired in time.
	ErrLockTimeout = errors.New("eventlog: session lock acquisition timeout")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("eventlog: closed")
)

// ConcurrentAppendError identifies the colliding write.
type ConcurrentAppendError struct {
	SessionID string
	Sequence  uint64
}

func (e *ConcurrentAppendError) Error() string {
	return fmt.Sprintf("eventlog: sequence %d already exists for session %s", e.Sequence, e.SessionID)
}

func (e *ConcurrentAppendError) Unwrap() error { return ErrConcurrentAppend }
