package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	exportstorage "github.com/rezkam/exportd/internal/storage"
)

// Store is a GCS-backed implementation of storage.Store.
//
// GCS object writes are atomic: an object becomes visible only when the
// writer is closed successfully, so a crashed upload never leaves a partial
// artifact. This is the property the executor's crash-recovery contract
// relies on.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore creates a new GCS store.
// It assumes the client is authenticated (e.g. via GOOGLE_APPLICATION_CREDENTIALS).
func NewStore(ctx context.Context, bucketName string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Store{
		client: client,
		bucket: bucketName,
	}, nil
}

// NewWriter returns a streaming writer for the object at name.
func (s *Store) NewWriter(ctx context.Context, name string) io.WriteCloser {
	return s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
}

// NewReader opens the object at name.
func (s *Store) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", exportstorage.ErrObjectNotFound, name)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", name, err)
	}
	return r, nil
}

// Exists reports whether an object exists at name.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object %s: %w", name, err)
}

// List returns the names of all objects under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
