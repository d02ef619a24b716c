package http

import (
	"net/http"

	"github.com/carteralabs/panel/pkg/httpx"
	"github.com/go-playground/validator/v10"
)

// validate is shared by all handlers; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New()

// credentialsForm carries a sign-in or sign-up submission. Validation here is
// advisory and mirrors the identity service's own rules; the service remains
// authoritative.
type credentialsForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// codeForm carries a TOTP code submission.
type codeForm struct {
	Code string `validate:"required,len=6,numeric"`
}

// readForm parses the request form and validates v, writing a 400 response
// on failure. Returns false when the request has already been answered.
func readForm(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := r.ParseForm(); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_request",
			"error_description": "malformed form body",
		})
		return false
	}

	switch form := v.(type) {
	case *credentialsForm:
		form.Email = r.PostFormValue("email")
		form.Password = r.PostFormValue("password")
	case *codeForm:
		form.Code = r.PostFormValue("code")
	}

	if err := validate.Struct(v); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_request",
			"error_description": validationMessage(err),
		})
		return false
	}
	return true
}

// validationMessage maps the first validation failure to user-facing text.
func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return "invalid form submission"
	}

	fe := errs[0]
	switch fe.Field() {
	case "Email":
		return "a valid email address is required"
	case "Password":
		return "password must be at least 6 characters"
	case "Code":
		return "verification code must be 6 digits"
	}
	return "invalid form submission"
}
