// Package store implements the server's account store: a concurrent mapping
// from username to credentials and profile content, with a durable snapshot.
// Two implementations exist: an in-memory map persisted through snapshot
// sinks, and a Postgres-backed store for deployments that already run a
// database.
package store

import "context"

// Account is one registered user. Content is nil until the first SET; a
// zero-length content is a distinct, valid value.
type Account struct {
	Username string
	Password string
	Content  []byte
}

// Store is the single piece of shared mutable state; every command handler
// runs against it. All operations are atomic with respect to each other, and
// Persist observes a consistent point-in-time view of the whole account set.
//
// Operations return the protocol sentinel errors (protocol.ErrUserExists,
// protocol.ErrLogin, protocol.ErrNoUser, protocol.ErrNoData) so the
// dispatcher can map failures straight to wire status codes.
type Store interface {
	// Create atomically registers a new user with absent content.
	Create(ctx context.Context, user, pass string) error

	// Authenticate verifies credentials, reporting the same error for an
	// unknown user and a wrong password.
	Authenticate(ctx context.Context, user, pass string) error

	// SetContent replaces the user's content blob atomically and entirely.
	SetContent(ctx context.Context, user string, content []byte) error

	// GetContent returns a copy of the user's content.
	GetContent(ctx context.Context, user string) ([]byte, error)

	// ListUsernames returns all usernames in registration order.
	ListUsernames(ctx context.Context) ([]string, error)

	// Persist flushes a consistent snapshot of every account to durable
	// storage. It must not lose data already acknowledged to a prior call.
	Persist(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
