package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/carteralabs/panel/pkg/idp"
)

// refreshAhead is how close to expiry Revalidate refreshes a session.
const refreshAhead = 5 * time.Minute

// Refresher exchanges a refresh token for a fresh session. *idp.Client
// satisfies it.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*idp.Session, error)
}

// Vault is the per-browser-session implementation of session.Vault. It
// caches the live session in memory, persists the sealed refresh token and
// pushes changes produced by background revalidation to subscribers.
type Vault struct {
	sid       string
	store     *Store
	sealer    *Sealer
	refresher Refresher
	logger    *slog.Logger

	mu      sync.Mutex
	current *idp.Session
	subs    map[int]func(*idp.Session)
	nextSub int
}

// NewVault creates the vault for one browser session id.
func NewVault(st *Store, sealer *Sealer, refresher Refresher, sid string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		sid:       sid,
		store:     st,
		sealer:    sealer,
		refresher: refresher,
		logger:    logger,
		subs:      make(map[int]func(*idp.Session)),
	}
}

// Current returns the live session, reviving it from the persisted refresh
// token when the process has no in-memory copy yet. Returns (nil, nil) when
// no session exists, including when the persisted token turns out to be
// revoked.
func (v *Vault) Current(ctx context.Context) (*idp.Session, error) {
	v.mu.Lock()
	cached := v.current
	v.mu.Unlock()

	if cached != nil && !cached.Expired() {
		return cached, nil
	}

	sealed, err := v.store.GetSession(ctx, v.sid)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	token, err := v.sealer.Open(sealed)
	if err != nil {
		// A corrupt blob (e.g. passphrase rotated) is unrecoverable; drop it.
		v.logger.Warn("dropping undecryptable session token", "sid", v.sid)
		_ = v.store.DeleteSession(ctx, v.sid)
		return nil, nil
	}

	sess, err := v.refresher.RefreshSession(ctx, string(token))
	if err != nil {
		if idp.IsInvalidGrant(err) {
			// Revoked or already-rotated token; the session is simply gone.
			_ = v.store.DeleteSession(ctx, v.sid)
			return nil, nil
		}
		return nil, err
	}

	if err := v.Store(ctx, sess); err != nil {
		v.logger.Warn("failed to persist refreshed session", "sid", v.sid, "error", err)
	}
	return sess, nil
}

// Store seals and persists the session's refresh token and updates the
// in-memory copy. A nil session is equivalent to Clear.
func (v *Vault) Store(ctx context.Context, sess *idp.Session) error {
	if sess == nil {
		return v.Clear(ctx)
	}

	sealed, err := v.sealer.Seal([]byte(sess.RefreshToken))
	if err != nil {
		return err
	}
	if err := v.store.PutSession(ctx, v.sid, sealed, sess.User.Email); err != nil {
		return err
	}

	v.mu.Lock()
	v.current = sess
	v.mu.Unlock()
	return nil
}

// Clear drops the persisted and cached session.
func (v *Vault) Clear(ctx context.Context) error {
	v.mu.Lock()
	v.current = nil
	v.mu.Unlock()
	return v.store.DeleteSession(ctx, v.sid)
}

// Subscribe registers a push callback and returns its cancel function.
func (v *Vault) Subscribe(fn func(*idp.Session)) func() {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

func (v *Vault) publish(sess *idp.Session) {
	v.mu.Lock()
	subs := make([]func(*idp.Session), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(sess)
	}
}

// Revalidate refreshes the session when it is close to expiry and pushes the
// outcome to subscribers. Called periodically by the app janitor; it is the
// push half of the dual-source startup protocol.
func (v *Vault) Revalidate(ctx context.Context) {
	v.mu.Lock()
	cached := v.current
	v.mu.Unlock()

	if cached == nil || time.Until(cached.ExpiresAt) > refreshAhead {
		return
	}

	sess, err := v.refresher.RefreshSession(ctx, cached.RefreshToken)
	if err != nil {
		if idp.IsInvalidGrant(err) {
			// Session revoked elsewhere (e.g. sign-out on another device).
			if clearErr := v.Clear(ctx); clearErr != nil {
				v.logger.Warn("failed to clear revoked session", "sid", v.sid, "error", clearErr)
			}
			v.publish(nil)
			return
		}
		v.logger.Warn("session refresh failed, will retry", "sid", v.sid, "error", err)
		return
	}

	if err := v.Store(ctx, sess); err != nil {
		v.logger.Warn("failed to persist refreshed session", "sid", v.sid, "error", err)
	}
	v.publish(sess)
}
