package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when no value is stored for a name.
	ErrNotFound = errors.New("token not found")

	// ErrReadOnly is returned by Write on backends that can't persist.
	ErrReadOnly = errors.New("token store is read-only")
)

// Store reads and writes tokens keyed by name.
type Store interface {
	// Read returns the stored value for name. Returns an error wrapping
	// ErrNotFound if nothing is stored.
	Read(ctx context.Context, name string) (string, error)

	// Write stores value under name, replacing any previous value.
	Write(ctx context.Context, name, value string) error
}
