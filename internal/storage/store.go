// Package storage abstracts the object store that export artifacts are
// written to. Backends must tolerate repeated writes to the same name:
// artifact paths are deterministic and a retried unit overwrites the same
// object.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound indicates the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store is an object-store client for export artifacts.
type Store interface {
	// NewWriter returns a writer that streams an object to name, replacing
	// any existing object at that name. The object is durable only after
	// Close returns nil; a failed or abandoned writer leaves no object.
	NewWriter(ctx context.Context, name string) io.WriteCloser

	// NewReader opens the object at name for reading.
	// Returns ErrObjectNotFound if no such object exists.
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)

	// Exists reports whether an object exists at name.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the names of all objects under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
