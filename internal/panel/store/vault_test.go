package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carteralabs/panel/pkg/idp"

	"github.com/stretchr/testify/require"
)

type stubRefresher struct {
	calls   []string
	session *idp.Session
	err     error
}

func (s *stubRefresher) RefreshSession(_ context.Context, refreshToken string) (*idp.Session, error) {
	s.calls = append(s.calls, refreshToken)
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

func sessionExpiring(in time.Duration) *idp.Session {
	return &idp.Session{
		AccessToken:    "at",
		RefreshToken:   "rt-1",
		TokenType:      "bearer",
		ExpiresAt:      time.Now().Add(in),
		AssuranceLevel: idp.AAL1,
		User:           idp.Identity{ID: "u1", Email: "a@example.com"},
	}
}

func newTestVault(t *testing.T, refresher Refresher) (*Vault, *Store) {
	t.Helper()

	st := newTestStore(t)
	sealer, err := NewSealer("vault-test")
	require.NoError(t, err)
	return NewVault(st, sealer, refresher, "sid-1", nil), st
}

func TestVaultCurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("no session", func(t *testing.T) {
		ref := &stubRefresher{}
		vault, _ := newTestVault(t, ref)

		sess, err := vault.Current(ctx)
		require.NoError(t, err)
		require.Nil(t, sess)
		require.Empty(t, ref.calls)
	})

	t.Run("cached session served without refresh", func(t *testing.T) {
		ref := &stubRefresher{}
		vault, _ := newTestVault(t, ref)
		require.NoError(t, vault.Store(ctx, sessionExpiring(time.Hour)))

		sess, err := vault.Current(ctx)
		require.NoError(t, err)
		require.NotNil(t, sess)
		require.Empty(t, ref.calls)
	})

	t.Run("revived from persisted token after restart", func(t *testing.T) {
		ref := &stubRefresher{}
		vault, st := newTestVault(t, ref)
		require.NoError(t, vault.Store(ctx, sessionExpiring(time.Hour)))

		// A second vault over the same row models a process restart.
		rotated := sessionExpiring(time.Hour)
		rotated.RefreshToken = "rt-2"
		ref2 := &stubRefresher{session: rotated}
		revived := NewVault(st, vault.sealer, ref2, "sid-1", nil)

		sess, err := revived.Current(ctx)
		require.NoError(t, err)
		require.NotNil(t, sess)
		require.Equal(t, []string{"rt-1"}, ref2.calls)

		// The rotated token was persisted, so the next revival uses it.
		ref3 := &stubRefresher{session: rotated}
		again := NewVault(st, vault.sealer, ref3, "sid-1", nil)
		_, err = again.Current(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"rt-2"}, ref3.calls)
	})

	t.Run("revoked token clears row", func(t *testing.T) {
		ref := &stubRefresher{err: &idp.APIError{StatusCode: 400, Code: idp.CodeInvalidGrant}}
		vault, st := newTestVault(t, ref)

		sealed, err := vault.sealer.Seal([]byte("rt-revoked"))
		require.NoError(t, err)
		require.NoError(t, st.PutSession(ctx, "sid-1", sealed, ""))

		sess, err := vault.Current(ctx)
		require.NoError(t, err)
		require.Nil(t, sess)

		_, err = st.GetSession(ctx, "sid-1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("undecryptable blob dropped", func(t *testing.T) {
		ref := &stubRefresher{}
		vault, st := newTestVault(t, ref)
		require.NoError(t, st.PutSession(ctx, "sid-1", []byte("garbage"), ""))

		sess, err := vault.Current(ctx)
		require.NoError(t, err)
		require.Nil(t, sess)
		require.Empty(t, ref.calls)

		_, err = st.GetSession(ctx, "sid-1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transient refresh failure surfaces", func(t *testing.T) {
		ref := &stubRefresher{err: errors.New("connection refused")}
		vault, st := newTestVault(t, ref)

		sealed, err := vault.sealer.Seal([]byte("rt-1"))
		require.NoError(t, err)
		require.NoError(t, st.PutSession(ctx, "sid-1", sealed, ""))

		_, err = vault.Current(ctx)
		require.Error(t, err)

		// The row must survive so a later attempt can still revive.
		_, err = st.GetSession(ctx, "sid-1")
		require.NoError(t, err)
	})
}

func TestVaultRevalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("far from expiry is a no-op", func(t *testing.T) {
		ref := &stubRefresher{}
		vault, _ := newTestVault(t, ref)
		require.NoError(t, vault.Store(ctx, sessionExpiring(time.Hour)))

		vault.Revalidate(ctx)
		require.Empty(t, ref.calls)
	})

	t.Run("near expiry refreshes and notifies", func(t *testing.T) {
		rotated := sessionExpiring(time.Hour)
		rotated.RefreshToken = "rt-2"
		ref := &stubRefresher{session: rotated}
		vault, _ := newTestVault(t, ref)
		require.NoError(t, vault.Store(ctx, sessionExpiring(time.Minute)))

		var got []*idp.Session
		cancel := vault.Subscribe(func(sess *idp.Session) { got = append(got, sess) })
		defer cancel()

		vault.Revalidate(ctx)
		require.Equal(t, []string{"rt-1"}, ref.calls)
		require.Len(t, got, 1)
		require.Equal(t, "rt-2", got[0].RefreshToken)
	})

	t.Run("revocation pushes nil and clears", func(t *testing.T) {
		ref := &stubRefresher{err: &idp.APIError{StatusCode: 400, Code: idp.CodeInvalidGrant}}
		vault, st := newTestVault(t, ref)
		require.NoError(t, vault.Store(ctx, sessionExpiring(time.Minute)))

		var got []*idp.Session
		cancel := vault.Subscribe(func(sess *idp.Session) { got = append(got, sess) })
		defer cancel()

		vault.Revalidate(ctx)
		require.Len(t, got, 1)
		require.Nil(t, got[0])

		_, err := st.GetSession(ctx, "sid-1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transient failure keeps session", func(t *testing.T) {
		ref := &stubRefresher{err: errors.New("timeout")}
		vault, _ := newTestVault(t, ref)
		require.NoError(t, vault.Store(ctx, sessionExpiring(time.Minute)))

		var got []*idp.Session
		cancel := vault.Subscribe(func(sess *idp.Session) { got = append(got, sess) })
		defer cancel()

		vault.Revalidate(ctx)
		require.Empty(t, got)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		rotated := sessionExpiring(time.Hour)
		ref := &stubRefresher{session: rotated}
		vault, _ := newTestVault(t, ref)
		require.NoError(t, vault.Store(ctx, sessionExpiring(time.Minute)))

		var got []*idp.Session
		cancel := vault.Subscribe(func(sess *idp.Session) { got = append(got, sess) })
		cancel()

		vault.Revalidate(ctx)
		require.Empty(t, got)
	})
}
