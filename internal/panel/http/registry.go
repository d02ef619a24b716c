package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/carteralabs/panel/internal/panel/session"
	"github.com/carteralabs/panel/internal/panel/store"
	"github.com/carteralabs/panel/pkg/idx"
)

// sidCookie names the opaque browser-session cookie. The value is a ULID
// with no meaning outside this process's database.
const sidCookie = "panel_sid"

// entry bundles everything owned by one browser session. start guards the
// provider's startup pull so concurrent first requests for the same sid all
// wait for it to finish instead of seeing a half-initialized provider.
type entry struct {
	provider *session.Provider
	vault    *store.Vault
	flash    *flashBin

	start    sync.Once
	lastSeen time.Time
}

// Registry maps browser-session cookies to providers. Entries are created
// lazily on first use and evicted by the janitor once idle.
type Registry struct {
	svc     session.IdentityService
	st      *store.Store
	sealer  *store.Sealer
	refresh store.Refresher
	logger  *slog.Logger

	appRoot      string
	idleTTL      time.Duration
	secureCookie bool

	mu      sync.Mutex
	entries map[string]*entry
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Service   session.IdentityService
	Store     *store.Store
	Sealer    *store.Sealer
	Refresher store.Refresher
	Logger    *slog.Logger

	// AppRoot is the public origin handed to sign-up confirmation emails.
	AppRoot string

	// IdleTTL is how long an untouched browser session survives before the
	// janitor evicts it.
	IdleTTL time.Duration
}

func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}

	return &Registry{
		svc:     cfg.Service,
		st:      cfg.Store,
		sealer:  cfg.Sealer,
		refresh: cfg.Refresher,
		logger:  logger,
		appRoot: cfg.AppRoot,
		idleTTL: idleTTL,
		// The session cookie is only marked Secure when the panel is served
		// over TLS, so local development over plain HTTP keeps working.
		secureCookie: strings.HasPrefix(cfg.AppRoot, "https://"),
		entries:      make(map[string]*entry),
	}
}

// Session resolves the request's browser session, minting a cookie and a
// provider on first contact. The provider's startup pull runs on the request
// context, so a returning browser has its session revived before the handler
// looks at it.
func (rg *Registry) Session(w http.ResponseWriter, r *http.Request) *entry {
	sid := ""
	if c, err := r.Cookie(sidCookie); err == nil {
		if _, perr := idx.Parse(c.Value); perr == nil {
			sid = c.Value
		}
	}
	if sid == "" {
		sid = idx.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     sidCookie,
			Value:    sid,
			Path:     "/",
			HttpOnly: true,
			Secure:   rg.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}

	rg.mu.Lock()
	ent, ok := rg.entries[sid]
	if !ok {
		flash := &flashBin{}
		vault := store.NewVault(rg.st, rg.sealer, rg.refresh, sid, rg.logger)
		provider := session.NewProvider(session.Config{
			Service: rg.svc,
			Vault:   vault,
			Notify:  flash,
			Logger:  rg.logger.With("sid", sid),
			AppRoot: rg.appRoot,
		})
		ent = &entry{provider: provider, vault: vault, flash: flash}
		rg.entries[sid] = ent
	}
	ent.lastSeen = time.Now()
	rg.mu.Unlock()

	// Outside the registry lock so other sessions aren't serialized behind a
	// slow revival, but inside the entry's Once so every request for this sid
	// waits until the startup pull has finished.
	ent.start.Do(func() { ent.provider.Start(r.Context()) })
	return ent
}

// Sweep revalidates live sessions and evicts entries idle past the TTL.
// Called periodically by the app janitor.
func (rg *Registry) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-rg.idleTTL)

	rg.mu.Lock()
	live := make([]*entry, 0, len(rg.entries))
	for sid, ent := range rg.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(rg.entries, sid)
			ent.provider.Close()
			continue
		}
		live = append(live, ent)
	}
	rg.mu.Unlock()

	for _, ent := range live {
		ent.vault.Revalidate(ctx)
	}

	if swept, err := rg.st.DeleteSessionsIdleSince(ctx, cutoff); err != nil {
		rg.logger.Warn("session sweep failed", "error", err)
	} else if swept > 0 {
		rg.logger.Info("swept idle sessions", "count", swept)
	}
}

// Close tears down every live provider. Used during shutdown.
func (rg *Registry) Close() {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	for sid, ent := range rg.entries {
		ent.provider.Close()
		delete(rg.entries, sid)
	}
}
