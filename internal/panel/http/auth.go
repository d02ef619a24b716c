package http

import (
	"net/http"

	"github.com/carteralabs/panel/pkg/httpx"
	"github.com/carteralabs/panel/pkg/slogx"
)

// AuthHandler handles the credential endpoints.
type AuthHandler struct {
	Registry *Registry
}

// HandleSignIn handles POST /auth/signin. The provider decides which branch
// the user lands in (straight in, code verification, or setup offer); the
// handler just redirects back to /auth, which renders whatever state
// resulted. Failures surface as flash notices, not HTTP errors, so the
// credentials view re-renders with feedback.
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var form credentialsForm
	if !readForm(w, r, &form) {
		return
	}

	ent := h.Registry.Session(w, r)
	if err := ent.provider.SignIn(ctx, form.Email, form.Password); err != nil {
		log.Warn("sign-in failed", "email", form.Email, "err", err)
	}
	httpx.SeeOther(w, r, "/auth")
}

// HandleSignUp handles POST /auth/signup.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var form credentialsForm
	if !readForm(w, r, &form) {
		return
	}

	ent := h.Registry.Session(w, r)
	if err := ent.provider.SignUp(ctx, form.Email, form.Password); err != nil {
		log.Warn("sign-up failed", "email", form.Email, "err", err)
	}
	httpx.SeeOther(w, r, "/auth")
}

// HandleSignOut handles POST /auth/signout. Local state is always reset even
// when service-side revocation fails, so the redirect lands on the
// credentials view either way.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ent := h.Registry.Session(w, r)
	if err := ent.provider.SignOut(ctx); err != nil {
		log.Warn("sign-out revocation failed", "err", err)
	}
	httpx.SeeOther(w, r, "/auth")
}
