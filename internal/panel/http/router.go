// Package http is the panel's HTTP surface: the sign-in flow controller, the
// protected dashboard and the health endpoints. Handlers are thin; all flow
// decisions live in internal/panel/session.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/carteralabs/panel/internal/panel/store"
	"github.com/carteralabs/panel/pkg/httpx"
	"github.com/carteralabs/panel/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	registry     *Registry
	store        *store.Store
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(registry *Registry, st *store.Store, buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		registry:     registry,
		store:        st,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerMFA()
	r.registerPages()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Registry: r.registry}

	// POST /auth/signin - strict rate limit (authentication attempts)
	// Note: rate limited by IP + email form field to prevent brute force
	r.Mux.Handle("POST /auth/signin",
		httpx.Chain(http.HandlerFunc(h.HandleSignIn),
			httpx.RateLimit(httpx.StrictLimit, httpx.IPAndFormFieldKey("email")),
		),
	)

	// POST /auth/signup - strict rate limit (account creation)
	r.Mux.Handle("POST /auth/signup",
		httpx.Chain(http.HandlerFunc(h.HandleSignUp),
			httpx.RateLimit(httpx.StrictLimit, httpx.IPAndFormFieldKey("email")),
		),
	)

	// POST /auth/signout - moderate rate limit
	r.Mux.Handle("POST /auth/signout",
		httpx.Chain(http.HandlerFunc(h.HandleSignOut),
			httpx.RateLimit(httpx.ModerateLimit, httpx.IPKey),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{Registry: r.registry}

	// POST /auth/mfa/setup - moderate rate limit (enrollment requests)
	r.Mux.Handle("POST /auth/mfa/setup",
		httpx.Chain(http.HandlerFunc(h.HandleSetup),
			httpx.RateLimit(httpx.ModerateLimit, httpx.IPKey),
		),
	)

	// POST /auth/mfa/enable - strict rate limit (prevent TOTP brute force)
	r.Mux.Handle("POST /auth/mfa/enable",
		httpx.Chain(http.HandlerFunc(h.HandleEnable),
			httpx.RateLimit(httpx.StrictLimit, httpx.IPKey),
		),
	)

	// POST /auth/mfa/verify - strict rate limit (prevent TOTP brute force)
	r.Mux.Handle("POST /auth/mfa/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimit(httpx.StrictLimit, httpx.IPKey),
		),
	)

	// POST /auth/mfa/skip - moderate rate limit
	r.Mux.Handle("POST /auth/mfa/skip",
		httpx.Chain(http.HandlerFunc(h.HandleSkip),
			httpx.RateLimit(httpx.ModerateLimit, httpx.IPKey),
		),
	)

	// GET /auth/mfa/qr.png - lenient rate limit (rendered inline by the
	// setup view)
	r.Mux.Handle("GET /auth/mfa/qr.png",
		httpx.Chain(http.HandlerFunc(h.HandleQRCode),
			httpx.RateLimit(httpx.LenientLimit, httpx.IPKey),
		),
	)
}

func (r *Router) registerPages() {
	h := &PagesHandler{Registry: r.registry}

	r.Mux.Handle("GET /{$}",
		httpx.Chain(http.HandlerFunc(h.HandleDashboard),
			httpx.RateLimit(httpx.LenientLimit, httpx.IPKey),
		),
	)
	r.Mux.Handle("GET /auth",
		httpx.Chain(http.HandlerFunc(h.HandleAuth),
			httpx.RateLimit(httpx.LenientLimit, httpx.IPKey),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may
	// poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimit(httpx.LenientLimit, httpx.IPKey),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimit(httpx.LenientLimit, httpx.IPKey),
		),
	)
}
