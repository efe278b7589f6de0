// Package docstore exposes a path-addressed JSON tree on top of backends that
// store whole root documents.
//
// A path is a slash separated list of keys. Its first segment names the root
// document, the unit every backend updates atomically. Watches deliver the full
// value at a path each time it changes.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when nothing is stored at a path.
	ErrNotFound = errors.New("docstore: not found")
	// ErrInvalidPath is returned for empty paths or keys holding reserved characters.
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// UpdateFunc receives the current root document (nil when absent) and returns
// its replacement. Returning nil removes the document.
type UpdateFunc func(current []byte) ([]byte, error)

// Backend stores root documents as opaque JSON values.
type Backend interface {
	// Load returns the root document, or ErrNotFound.
	Load(ctx context.Context, root string) ([]byte, error)
	// Update applies fn atomically: no concurrent Update on the same root is lost.
	Update(ctx context.Context, root string, fn UpdateFunc) error
	// Watch streams the root document, current value first.
	Watch(ctx context.Context, root string) (RootWatcher, error)
	Close() error
}

// RootWatcher streams successive versions of one root document. A nil value
// means the document is absent.
type RootWatcher interface {
	Changes() <-chan []byte
	Stop()
}
