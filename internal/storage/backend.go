package storage

import (
	"context"
)

// Backend defines the persistence medium of the credential records. A
// backend only deals with opaque (already encoded) records.
type Backend interface {
	// Load returns the persisted record for the given slot or
	// ErrDoesNotExist.
	Load(ctx context.Context, slot string) ([]byte, error)

	// Save persists the record for the given slot. An existing record must
	// be replaced atomically: concurrent readers either observe the old or
	// the new record, never a partial write.
	Save(ctx context.Context, slot string, b []byte) error

	// Delete removes the record for the given slot or returns
	// ErrDoesNotExist.
	Delete(ctx context.Context, slot string) error

	// Slots returns the slot labels that have a persisted record.
	Slots(ctx context.Context) ([]string, error)

	// Ping tests that the medium is reachable.
	Ping(ctx context.Context) error

	// Close closes the backend.
	Close() error
}
