package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealer(t *testing.T) {
	sealer, err := NewSealer("test-passphrase")
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		sealed, err := sealer.Seal([]byte("refresh-token-value"))
		require.NoError(t, err)
		require.NotContains(t, string(sealed), "refresh-token-value")

		plain, err := sealer.Open(sealed)
		require.NoError(t, err)
		require.Equal(t, "refresh-token-value", string(plain))
	})

	t.Run("unique nonce per seal", func(t *testing.T) {
		a, err := sealer.Seal([]byte("same"))
		require.NoError(t, err)
		b, err := sealer.Seal([]byte("same"))
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("tamper detected", func(t *testing.T) {
		sealed, err := sealer.Seal([]byte("token"))
		require.NoError(t, err)

		sealed[len(sealed)-1] ^= 0xff
		_, err = sealer.Open(sealed)
		require.ErrorIs(t, err, ErrSealedTokenCorrupt)
	})

	t.Run("truncated blob", func(t *testing.T) {
		_, err := sealer.Open([]byte("short"))
		require.ErrorIs(t, err, ErrSealedTokenCorrupt)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		other, err := NewSealer("another-passphrase")
		require.NoError(t, err)

		sealed, err := sealer.Seal([]byte("token"))
		require.NoError(t, err)

		_, err = other.Open(sealed)
		require.ErrorIs(t, err, ErrSealedTokenCorrupt)
	})

	t.Run("empty passphrase rejected", func(t *testing.T) {
		_, err := NewSealer("")
		require.Error(t, err)
	})
}
