package http

import (
	"net/http"

	"github.com/carteralabs/panel/internal/panel/session"
	"github.com/carteralabs/panel/pkg/httpx"
	"github.com/carteralabs/panel/pkg/idp"
)

// PagesHandler serves the dashboard and the auth view. Responses are JSON
// view models; a server-rendered template layer or SPA shell can sit in
// front without the flow logic changing.
type PagesHandler struct {
	Registry *Registry
}

type noticeView struct {
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func noticeViews(notices []session.Notice) []noticeView {
	out := make([]noticeView, 0, len(notices))
	for _, n := range notices {
		out = append(out, noticeView{Level: string(n.Level), Title: n.Title, Detail: n.Detail})
	}
	return out
}

// HandleDashboard handles GET /. The dashboard is reachable only when an
// identity exists and no sign-in flow is active; anything else bounces to
// /auth. In particular a user who still owes a verification code is never
// let through, even though a reduced-assurance session already exists.
func (h *PagesHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ent := h.Registry.Session(w, r)

	// One atomic snapshot: the janitor's refresh feed can drop the session
	// on its own goroutine, so gate and reads must see the same state.
	snap := ent.provider.Snapshot()
	if !snap.LoggedIn {
		httpx.SeeOther(w, r, "/auth")
		return
	}

	assurance := idp.AAL1
	if snap.Session != nil && snap.Session.AssuranceLevel != "" {
		assurance = snap.Session.AssuranceLevel
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"view":            "dashboard",
		"email":           snap.Identity.Email,
		"user_id":         snap.Identity.ID,
		"assurance_level": assurance,
		"mfa_enabled":     assurance == idp.AAL2,
		"notices":         noticeViews(ent.flash.Drain()),
	})
}

// HandleAuth handles GET /auth, returning the view the flow state calls for.
// A fully signed-in user is bounced straight to the dashboard.
func (h *PagesHandler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	ent := h.Registry.Session(w, r)

	snap := ent.provider.Snapshot()
	if snap.LoggedIn {
		httpx.SeeOther(w, r, "/")
		return
	}

	body := map[string]any{
		"view":    "credentials",
		"notices": noticeViews(ent.flash.Drain()),
	}

	flow := snap.Flow
	if v, ok := flow.Verification(); ok {
		body["view"] = "verify"
		body["challenge_id"] = v.ChallengeID
		body["factor_id"] = v.FactorID
		body["email"] = v.Email
	} else if s, ok := flow.Setup(); ok {
		body["view"] = "setup"
		body["has_material"] = s.FactorID != ""
		if s.FactorID != "" {
			body["factor_id"] = s.FactorID
			body["secret"] = s.Secret
			body["qr_url"] = "/auth/mfa/qr.png"
		}
	}

	httpx.WriteJSON(w, http.StatusOK, body)
}
