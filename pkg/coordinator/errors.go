package coordinator

import (
	"errors"
	"fmt"
)

// Structural precondition failures. Callers branch on these with errors.Is
// instead of parsing messages.
var (
	// ErrDuplicateInstance is returned when registering an id that already exists.
	ErrDuplicateInstance = errors.New("instance already registered")
	// ErrInstanceNotFound is returned for operations on unknown instance ids.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrInstanceOffline is returned when a sync targets an offline instance.
	ErrInstanceOffline = errors.New("instance is offline")
	// ErrInstanceBusy is returned when unregistering an instance with a sync in flight.
	ErrInstanceBusy = errors.New("instance has a sync in flight")
	// ErrSyncInProgress is returned when a second sync targets an instance
	// that already has one active.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrTimeout is returned when a sync exceeds its configured deadline.
	ErrTimeout = errors.New("sync timed out")
	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("coordinator is closed")
)

// ReplicationError records a single failed replication target. It is logged
// and counted but never returned from a broadcast: partial replication
// failure is an expected outcome, not an error state.
type ReplicationError struct {
	InstanceID string
	Attempts   int
	Err        error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication to %s failed after %d attempts: %v", e.InstanceID, e.Attempts, e.Err)
}

func (e *ReplicationError) Unwrap() error { return e.Err }
