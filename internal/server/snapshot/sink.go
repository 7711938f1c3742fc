// Package snapshot places encoded account snapshots into durable storage.
// The store encodes; sinks only move bytes, so swapping a local file for an
// object store is a wiring change.
package snapshot

import "context"

// Sink is a durable location for account snapshots.
type Sink interface {
	// Put atomically replaces the stored snapshot with data.
	Put(ctx context.Context, data []byte) error
}
