package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedClosed is returned by Feed.Next after the replica was removed
	ErrFeedClosed = errors.New("replica feed closed")

	// ErrStopped is returned by WaitForSync when the client stops first
	ErrStopped = errors.New("replication client stopped")
)

// SyncError reports a failure in one phase of the replica protocol
type SyncError struct {
	Phase string // "connect", "handshake", "snapshot", "streaming"
	Err   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync error in phase %s: %v", e.Phase, e.Err)
}

// Unwrap returns the wrapped error
func (e *SyncError) Unwrap() error {
	return e.Err
}

func syncErr(phase string, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Phase: phase, Err: err}
}
