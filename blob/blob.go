// Package blob defines the object store that holds bulky field artifacts
// (extracted text, vectors, computed metadata) and deadletter payloads.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Download when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value object store.
type Store interface {
	// Upload writes data under key, replacing any previous object.
	Upload(ctx context.Context, key string, data []byte) error

	// Download reads the object at key. Returns ErrNotFound if missing.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}
