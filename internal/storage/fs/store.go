package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/rezkam/exportd/internal/storage"
)

// Store is a filesystem-backed implementation of storage.Store, intended for
// development and tests.
type Store struct {
	baseDir string
}

// NewStore creates a new filesystem store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) objectPath(name string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(name))
}

// NewWriter streams to a temporary file and renames it into place on Close,
// so a crashed write never leaves a partial object. This mirrors the
// visibility-on-close behavior of the GCS backend.
func (s *Store) NewWriter(ctx context.Context, name string) io.WriteCloser {
	return &fileWriter{
		ctx:   ctx,
		final: s.objectPath(name),
		tmp:   s.objectPath(name) + ".tmp." + uuid.NewString(),
	}
}

type fileWriter struct {
	ctx   context.Context
	final string
	tmp   string
	f     *os.File
	err   error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if err := w.ctx.Err(); err != nil {
		w.err = err
		return 0, err
	}
	if w.f == nil {
		if err := os.MkdirAll(filepath.Dir(w.final), 0o755); err != nil {
			w.err = fmt.Errorf("failed to create object directory: %w", err)
			return 0, w.err
		}
		f, err := os.Create(w.tmp)
		if err != nil {
			w.err = fmt.Errorf("failed to create temp object: %w", err)
			return 0, w.err
		}
		w.f = f
	}
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *fileWriter) Close() error {
	// A cancelled context aborts the write: the temp file is discarded and
	// the object never becomes visible.
	if w.err == nil {
		w.err = w.ctx.Err()
	}
	if w.f == nil {
		if w.err != nil {
			return w.err
		}
		// Zero-byte object: nothing was written yet.
		if _, err := w.Write(nil); err != nil {
			return err
		}
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return fmt.Errorf("failed to close temp object: %w", err)
	}
	if w.err != nil {
		_ = os.Remove(w.tmp)
		return w.err
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		_ = os.Remove(w.tmp)
		return fmt.Errorf("failed to publish object: %w", err)
	}
	return nil
}

// NewReader opens the object at name.
func (s *Store) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.objectPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, name)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", name, err)
	}
	return f, nil
}

// Exists reports whether an object exists at name.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(s.objectPath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object %s: %w", name, err)
}

// List returns the names of all objects under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp.") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return names, nil
}
