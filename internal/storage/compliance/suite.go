package compliance

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/exportd/internal/storage"
)

// RunStoreComplianceTest runs a standard set of tests against a Store
// implementation. setup returns a fresh (empty) store; the returned cleanup
// func is called when the subtest finishes.
func RunStoreComplianceTest(t *testing.T, setup func() (storage.Store, func())) {
	t.Run("WriteAndRead", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		w := store.NewWriter(ctx, "exports/2026/01/10/j1/ABC_20260110_CLS.csv")
		_, err := io.WriteString(w, "indexKey,value\nABC,1\n")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		r, err := store.NewReader(ctx, "exports/2026/01/10/j1/ABC_20260110_CLS.csv")
		require.NoError(t, err)
		defer r.Close()

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "indexKey,value\nABC,1\n", string(data))
	})

	t.Run("OverwriteSameName", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		const name = "exports/2026/01/10/j1/DEF_20260110_CLS.csv"

		w := store.NewWriter(ctx, name)
		_, err := io.WriteString(w, "first\n")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		// A retried unit writes the same deterministic path again.
		w = store.NewWriter(ctx, name)
		_, err = io.WriteString(w, "second\n")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		r, err := store.NewReader(ctx, name)
		require.NoError(t, err)
		defer r.Close()

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "second\n", string(data))
	})

	t.Run("Exists", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		ok, err := store.Exists(ctx, "exports/missing.csv")
		require.NoError(t, err)
		assert.False(t, ok)

		w := store.NewWriter(ctx, "exports/present.csv")
		_, err = io.WriteString(w, "x\n")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		ok, err = store.Exists(ctx, "exports/present.csv")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ReadMissing", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()

		_, err := store.NewReader(context.Background(), "exports/nope.csv")
		require.ErrorIs(t, err, storage.ErrObjectNotFound)
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		for _, name := range []string{
			"exports/2026/01/10/j1/A_20260110_CLS.csv",
			"exports/2026/01/10/j1/B_20260110_CLS.csv",
			"exports/2026/01/11/j2/C_20260111_CLS.csv",
		} {
			w := store.NewWriter(ctx, name)
			_, err := io.WriteString(w, "x\n")
			require.NoError(t, err)
			require.NoError(t, w.Close())
		}

		names, err := store.List(ctx, "exports/2026/01/10/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"exports/2026/01/10/j1/A_20260110_CLS.csv",
			"exports/2026/01/10/j1/B_20260110_CLS.csv",
		}, names)
	})
}
