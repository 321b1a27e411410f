package fs

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rezkam/exportd/internal/storage"
	"github.com/rezkam/exportd/internal/storage/compliance"
)

func TestFSStoreCompliance(t *testing.T) {
	compliance.RunStoreComplianceTest(t, func() (storage.Store, func()) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)
		return store, func() {}
	})
}

func TestAbandonedWriterLeavesNoObject(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	w := store.NewWriter(ctx, "exports/partial.csv")
	_, err = io.WriteString(w, "half a row")
	require.NoError(t, err)
	// Writer is never closed: simulates a crash mid-upload.

	ok, err := store.Exists(ctx, "exports/partial.csv")
	require.NoError(t, err)
	require.False(t, ok, "unclosed writer must not publish an object")
}

func TestCancelledWriterDiscardsObject(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w := store.NewWriter(ctx, "exports/aborted.csv")
	_, err = io.WriteString(w, "half a row")
	require.NoError(t, err)

	cancel()
	require.Error(t, w.Close(), "closing an aborted writer must not publish")

	ok, err := store.Exists(context.Background(), "exports/aborted.csv")
	require.NoError(t, err)
	require.False(t, ok)
}
