package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func TestStoreSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	t.Run("missing row", func(t *testing.T) {
		_, err := st.GetSession(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, st.PutSession(ctx, "s1", []byte("sealed-1"), "a@example.com"))

		sealed, err := st.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, []byte("sealed-1"), sealed)
	})

	t.Run("upsert replaces token", func(t *testing.T) {
		require.NoError(t, st.PutSession(ctx, "s1", []byte("sealed-2"), "a@example.com"))

		sealed, err := st.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, []byte("sealed-2"), sealed)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, st.DeleteSession(ctx, "s1"))
		_, err := st.GetSession(ctx, "s1")
		require.ErrorIs(t, err, ErrNotFound)

		// Deleting again is a no-op.
		require.NoError(t, st.DeleteSession(ctx, "s1"))
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, st.Ping(ctx))
	})
}

func TestDeleteSessionsIdleSince(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.PutSession(ctx, "old", []byte("x"), ""))
	require.NoError(t, st.PutSession(ctx, "fresh", []byte("y"), ""))

	// Both rows were just touched, so a cutoff in the past sweeps nothing.
	swept, err := st.DeleteSessionsIdleSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, swept)

	// A future cutoff sweeps everything.
	swept, err = st.DeleteSessionsIdleSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, swept)

	_, err = st.GetSession(ctx, "fresh")
	require.ErrorIs(t, err, ErrNotFound)
}
