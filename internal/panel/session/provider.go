// Package session holds the per-browser-session authentication state: the
// current identity, the cached service session and the sign-in flow state
// machine. It orchestrates calls to the hosted identity service; all actual
// credential and code verification happens there.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carteralabs/panel/pkg/idp"
)

// defaultFactorLabel is the human-readable name used when enrolling a TOTP
// factor. A collision with an existing factor label triggers one retry with
// a timestamp suffix.
const defaultFactorLabel = "Two-factor authentication"

var (
	// ErrNotSignedIn is returned when an operation needs a session and none
	// is cached.
	ErrNotSignedIn = errors.New("session: not signed in")

	// ErrNoPendingVerification is returned when VerifyMFA is called outside
	// the awaiting-verification state.
	ErrNoPendingVerification = errors.New("session: no verification in progress")
)

// IdentityService is the slice of the identity service contract the provider
// consumes. *idp.Client satisfies it.
type IdentityService interface {
	PasswordSignIn(ctx context.Context, email, password string) (*idp.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) error
	SignOut(ctx context.Context, session *idp.Session) error
	ListFactors(ctx context.Context, session *idp.Session) (*idp.FactorList, error)
	EnrollFactor(ctx context.Context, session *idp.Session, friendlyName string) (*idp.Factor, error)
	CreateChallenge(ctx context.Context, session *idp.Session, factorID string) (*idp.Challenge, error)
	VerifyChallenge(ctx context.Context, session *idp.Session, factorID, challengeID, code string) (*idp.Session, error)
}

// Vault persists and feeds session changes. It is the Go-side analog of the
// SPA's local session storage plus the auth-state-change subscription: the
// provider pulls the current session once at startup and receives pushes
// whenever the vault refreshes or drops a session. Implementations push nil
// on sign-out or expiry.
type Vault interface {
	Current(ctx context.Context) (*idp.Session, error)
	Store(ctx context.Context, s *idp.Session) error
	Clear(ctx context.Context) error
	Subscribe(fn func(*idp.Session)) (unsubscribe func())
}

// Enrollment is the setup material returned by SetupMFA.
type Enrollment struct {
	QRCode   string
	Secret   string
	URI      string
	FactorID string
}

// Config wires a Provider.
type Config struct {
	Service IdentityService
	Vault   Vault
	Notify  Notifier
	Logger  *slog.Logger

	// AppRoot is the redirect target handed to sign-up confirmation emails.
	AppRoot string
}

// Provider holds the authenticated identity, the cached session and the
// sign-in flow state for one browser session. All state transitions are
// triggered by sequential user actions; the mutex exists because the vault's
// refresh feed runs on its own goroutine.
type Provider struct {
	svc    IdentityService
	vault  Vault
	notify Notifier
	logger *slog.Logger

	appRoot string

	mu          sync.Mutex
	identity    *idp.Identity
	session     *idp.Session
	determining bool
	flow        FlowState
	unsubscribe func()
}

// NewProvider creates a Provider. Call Start to begin receiving session
// changes and Close when the browser session is discarded.
func NewProvider(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notify := cfg.Notify
	if notify == nil {
		notify = NotifierFunc(func(Notice) {})
	}

	return &Provider{
		svc:         cfg.Service,
		vault:       cfg.Vault,
		notify:      notify,
		logger:      logger,
		appRoot:     cfg.AppRoot,
		determining: true,
		flow:        Idle(),
	}
}

// Start registers for push notifications from the vault and performs one
// explicit pull to pick up a session that already exists at load time. Both
// paths funnel through the same idempotent reducer, so their relative order
// does not matter.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	p.unsubscribe = p.vault.Subscribe(p.applyChange)
	p.mu.Unlock()

	current, err := p.vault.Current(ctx)
	if err != nil {
		p.logger.Warn("initial session pull failed", "error", err)
		current = nil
	}
	p.applyChange(current)
}

// Close tears down the vault subscription.
func (p *Provider) Close() {
	p.mu.Lock()
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// applyChange is the single state-update routine both the startup pull and
// the push feed write through. Applying the same payload twice is a no-op.
func (p *Provider) applyChange(s *idp.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.determining = false
	if s == nil {
		p.identity = nil
		p.session = nil
		return
	}

	user := s.User
	p.identity = &user
	p.session = s
}

// Identity returns the current identity, or nil.
func (p *Provider) Identity() *idp.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

// Session returns the cached session snapshot, or nil.
func (p *Provider) Session() *idp.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Determining reports whether the initial session pull is still outstanding.
func (p *Provider) Determining() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.determining
}

// Flow returns the current flow state.
func (p *Provider) Flow() FlowState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flow
}

func (p *Provider) setFlow(f FlowState) {
	p.mu.Lock()
	p.flow = f
	p.mu.Unlock()
}

// LoggedIn reports whether the user may see the protected page: an identity
// exists and no flow is active. While a flow is active the user is never
// treated as fully authenticated, even though a reduced-assurance session
// already exists.
func (p *Provider) LoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity != nil && p.flow.IsIdle()
}

// Snapshot is one consistent view of the provider state, taken under a
// single lock acquisition.
type Snapshot struct {
	Identity *idp.Identity
	Session  *idp.Session
	Flow     FlowState
	LoggedIn bool
}

// Snapshot captures identity, session and flow atomically. Handlers that
// read more than one field must go through here: the vault's refresh feed
// can drop the session between separate accessor calls, so gating on
// LoggedIn and then fetching Identity separately could observe nil.
func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Identity: p.identity,
		Session:  p.session,
		Flow:     p.flow,
		LoggedIn: p.identity != nil && p.flow.IsIdle(),
	}
}

// SignUp delegates account creation to the identity service with a redirect
// target pointing back at the application root. Flow state is untouched.
func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	if err := p.svc.SignUp(ctx, email, password, p.appRoot); err != nil {
		p.notify.Notify(errNotice("Sign-up failed", err.Error()))
		return err
	}

	p.notify.Notify(infoNotice("Sign-up successful", "Check your email to confirm your account"))
	return nil
}

// SignIn performs the password check and, when it succeeds, routes the user
// into the right MFA branch:
//
//   - a verified factor exists: issue a challenge and await the code;
//   - no verified factor: offer enrollment;
//   - factor listing fails: continue without MFA (see the warning below).
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	sess, err := p.svc.PasswordSignIn(ctx, email, password)
	if err != nil {
		p.notify.Notify(errNotice("Sign-in failed", err.Error()))
		return err
	}

	p.applyChange(sess)
	p.persist(ctx, sess)

	factors, err := p.svc.ListFactors(ctx, sess)
	if err != nil {
		// Fail open: password auth already succeeded and the MFA status is
		// merely unknown. Product decision to not lock users out on a
		// transient listing error; logged loudly so it stays visible.
		p.logger.Warn("second-factor listing failed, continuing without MFA",
			"user_id", sess.User.ID, "error", err)
		return nil
	}

	verified, ok := factors.FirstVerifiedTOTP()
	if !ok {
		p.setFlow(AwaitingSetup(SetupFlow{}))
		return nil
	}

	ch, err := p.svc.CreateChallenge(ctx, sess, verified.ID)
	if err != nil {
		p.notify.Notify(errNotice("Verification unavailable", err.Error()))
		return err
	}

	p.setFlow(AwaitingVerification(VerificationFlow{
		ChallengeID: ch.ID,
		FactorID:    verified.ID,
		Email:       email,
		Password:    password,
	}))
	return nil
}

// SignOut revokes the session with the service and always resets local
// state, flow included, even when revocation fails.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()

	var err error
	if sess != nil {
		err = p.svc.SignOut(ctx, sess)
		if err != nil {
			p.notify.Notify(errNotice("Sign-out failed", err.Error()))
		}
	}

	p.setFlow(Idle())
	p.applyChange(nil)
	if clearErr := p.vault.Clear(ctx); clearErr != nil {
		p.logger.Warn("failed to clear stored session", "error", clearErr)
	}
	return err
}

// SetupMFA is an idempotent enrollment helper: it reuses an unverified
// factor that still carries setup material, refuses to duplicate a verified
// factor, and otherwise enrolls a new one, retrying once with a uniquified
// label on a name collision. Returns nil (with a notice) when there is
// nothing to set up or on irrecoverable failure.
func (p *Provider) SetupMFA(ctx context.Context) (*Enrollment, error) {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return nil, ErrNotSignedIn
	}

	factors, err := p.svc.ListFactors(ctx, sess)
	if err != nil {
		p.notify.Notify(errNotice("Could not check 2FA status", err.Error()))
		return nil, err
	}

	if pending, ok := factors.FirstUnverifiedTOTP(); ok && pending.TOTP != nil && pending.TOTP.Secret != "" {
		return &Enrollment{
			QRCode:   pending.TOTP.QRCode,
			Secret:   pending.TOTP.Secret,
			URI:      pending.TOTP.URI,
			FactorID: pending.ID,
		}, nil
	}

	if _, ok := factors.FirstVerifiedTOTP(); ok {
		p.notify.Notify(infoNotice("2FA already configured",
			"Two-factor authentication is already enabled for this account"))
		return nil, nil
	}

	factor, err := p.svc.EnrollFactor(ctx, sess, defaultFactorLabel)
	if idp.IsFactorNameConflict(err) {
		label := fmt.Sprintf("%s %d", defaultFactorLabel, time.Now().UnixMilli())
		factor, err = p.svc.EnrollFactor(ctx, sess, label)
	}
	if err != nil {
		p.notify.Notify(errNotice("Could not set up 2FA", err.Error()))
		return nil, err
	}

	enrollment := &Enrollment{FactorID: factor.ID}
	if factor.TOTP != nil {
		enrollment.QRCode = factor.TOTP.QRCode
		enrollment.Secret = factor.TOTP.Secret
		enrollment.URI = factor.TOTP.URI
	}
	return enrollment, nil
}

// EnterSetup records the enrollment material in the flow state so the setup
// view can render it. Only meaningful while enrollment is being offered.
func (p *Provider) EnterSetup(e Enrollment) {
	p.setFlow(AwaitingSetup(SetupFlow{
		QRCode:   e.QRCode,
		Secret:   e.Secret,
		URI:      e.URI,
		FactorID: e.FactorID,
	}))
}

// VerifyMFA resolves the pending challenge with the supplied code. An
// explicit challengeID overrides the one stored in the flow state. A wrong
// code leaves the flow state unchanged so the user can retry; success resets
// to idle and re-applies the upgraded session.
func (p *Provider) VerifyMFA(ctx context.Context, code, challengeID string) error {
	p.mu.Lock()
	sess := p.session
	flow := p.flow
	p.mu.Unlock()

	pending, ok := flow.Verification()
	if !ok {
		return ErrNoPendingVerification
	}
	if sess == nil {
		return ErrNotSignedIn
	}

	if challengeID == "" {
		challengeID = pending.ChallengeID
	}

	upgraded, err := p.svc.VerifyChallenge(ctx, sess, pending.FactorID, challengeID, code)
	if err != nil {
		p.notify.Notify(errNotice("Verification failed", err.Error()))
		return err
	}

	p.applyChange(upgraded)
	p.persist(ctx, upgraded)
	p.setFlow(Idle())
	p.notify.Notify(infoNotice("Verification complete", "You are signed in"))
	return nil
}

// EnableMFA is the setup-path counterpart of VerifyMFA: it issues a fresh
// challenge for the given factor and verifies it with the supplied code in
// one combined operation. The flow state is never mutated here; on success
// the caller clears it and navigates onward.
func (p *Provider) EnableMFA(ctx context.Context, code, factorID string) error {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return ErrNotSignedIn
	}

	ch, err := p.svc.CreateChallenge(ctx, sess, factorID)
	if err != nil {
		p.notify.Notify(errNotice("Could not enable 2FA", err.Error()))
		return err
	}

	upgraded, err := p.svc.VerifyChallenge(ctx, sess, factorID, ch.ID, code)
	if err != nil {
		p.notify.Notify(errNotice("Could not enable 2FA", err.Error()))
		return err
	}

	p.applyChange(upgraded)
	p.persist(ctx, upgraded)
	p.notify.Notify(infoNotice("2FA enabled",
		"Two-factor authentication has been enabled for your account"))
	return nil
}

// ResetFlow clears the flow state back to idle. Used by the setup view's
// "skip for now" action (MFA is optional, not enforced) and by the
// controller after a successful EnableMFA.
func (p *Provider) ResetFlow() {
	p.setFlow(Idle())
}

// persist writes a session to the vault; failures are logged, not fatal,
// because the in-memory session is still valid for this browser session.
func (p *Provider) persist(ctx context.Context, sess *idp.Session) {
	if err := p.vault.Store(ctx, sess); err != nil {
		p.logger.Warn("failed to persist session", "error", err)
	}
}
