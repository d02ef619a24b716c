package http

import (
	"net/http"

	"github.com/carteralabs/panel/pkg/httpx"
	"github.com/carteralabs/panel/pkg/slogx"
	"github.com/skip2/go-qrcode"
)

// qrSize is the rendered edge length of the enrollment QR code in pixels.
const qrSize = 256

// MFAHandler handles the second-factor endpoints.
type MFAHandler struct {
	Registry *Registry
}

// HandleSetup handles POST /auth/mfa/setup. It asks the provider for
// enrollment material and records it in the flow state so the setup view can
// render the QR code. Calling it again before finishing enrollment returns
// the same factor.
func (h *MFAHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ent := h.Registry.Session(w, r)
	enrollment, err := ent.provider.SetupMFA(ctx)
	if err != nil {
		log.Warn("enrollment failed", "err", err)
		httpx.SeeOther(w, r, "/auth")
		return
	}
	if enrollment == nil {
		// Already configured; the provider has queued a notice saying so.
		httpx.SeeOther(w, r, "/auth")
		return
	}

	ent.provider.EnterSetup(*enrollment)
	httpx.SeeOther(w, r, "/auth")
}

// HandleEnable handles POST /auth/mfa/enable: challenge plus verify in one
// step against the factor being set up. On success the flow is cleared here
// and the user lands on the dashboard.
func (h *MFAHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var form codeForm
	if !readForm(w, r, &form) {
		return
	}

	ent := h.Registry.Session(w, r)

	factorID := r.PostFormValue("factor_id")
	if factorID == "" {
		if setup, ok := ent.provider.Flow().Setup(); ok {
			factorID = setup.FactorID
		}
	}
	if factorID == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_request",
			"error_description": "no enrollment in progress",
		})
		return
	}

	if err := ent.provider.EnableMFA(ctx, form.Code, factorID); err != nil {
		log.Warn("enable 2FA failed", "factor_id", factorID, "err", err)
		httpx.SeeOther(w, r, "/auth")
		return
	}

	ent.provider.ResetFlow()
	httpx.SeeOther(w, r, "/")
}

// HandleVerify handles POST /auth/mfa/verify. A wrong code leaves the
// challenge pending, so the redirect re-renders the verify view for another
// attempt.
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var form codeForm
	if !readForm(w, r, &form) {
		return
	}

	ent := h.Registry.Session(w, r)
	if err := ent.provider.VerifyMFA(ctx, form.Code, r.PostFormValue("challenge_id")); err != nil {
		log.Warn("code verification failed", "err", err)
		httpx.SeeOther(w, r, "/auth")
		return
	}
	httpx.SeeOther(w, r, "/")
}

// HandleSkip handles POST /auth/mfa/skip. Second factors are optional; the
// skip action clears the flow so the password-only session counts as logged
// in.
func (h *MFAHandler) HandleSkip(w http.ResponseWriter, r *http.Request) {
	ent := h.Registry.Session(w, r)
	ent.provider.ResetFlow()
	httpx.SeeOther(w, r, "/")
}

// HandleQRCode handles GET /auth/mfa/qr.png, rendering the pending
// enrollment's provisioning URI for authenticator apps.
func (h *MFAHandler) HandleQRCode(w http.ResponseWriter, r *http.Request) {
	ent := h.Registry.Session(w, r)

	setup, ok := ent.provider.Flow().Setup()
	if !ok || setup.URI == "" {
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(setup.URI, qrcode.Medium, qrSize)
	if err != nil {
		slogx.FromContext(r.Context()).Error("qr encoding failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "server_error",
		})
		return
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
