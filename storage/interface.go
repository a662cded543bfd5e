package storage

import (
	"context"
)

// VectorStore defines the interface for the local vector store backend.
// The coordinator treats it as a black box: it inserts, removes and reads
// whole records and asks for aggregate stats. Records carry their
// last-modified time (unix milliseconds) so sync eligibility survives a
// process restart. Similarity search is a concern of the store itself and is
// not part of this contract.
type VectorStore interface {
	// Insert stores or overwrites the record for id.
	Insert(ctx context.Context, id string, vector []float32, metadata map[string]string, timestamp int64) error

	// Remove deletes the record for id. Removing a missing id is not an error.
	Remove(ctx context.Context, id string) error

	// Get returns the record for id, with found=false if it does not exist.
	Get(ctx context.Context, id string) (vector []float32, metadata map[string]string, timestamp int64, found bool, err error)

	// Scan calls fn once per stored record. A non-nil return from fn stops
	// the scan and is returned.
	Scan(ctx context.Context, fn func(id string, timestamp int64) error) error

	// Stats returns aggregate information about the store.
	Stats(ctx context.Context) (Stats, error)

	// Lifecycle
	Close() error
}

// Stats describes the current state of a store backend.
type Stats struct {
	Count   int
	Backend string
}
