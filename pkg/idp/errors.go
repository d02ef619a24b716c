package idp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes the panel reacts to. The service may return others; they are
// carried through verbatim in APIError.Code.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidGrant       = "invalid_grant"
	CodeInvalidToken       = "invalid_token"
	CodeFactorNameConflict = "mfa_factor_name_conflict"
	CodeVerificationFailed = "mfa_verification_failed"
	CodeChallengeExpired   = "mfa_challenge_expired"
	CodeServerError        = "server_error"
)

// APIError is a structured error response from the identity service.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// IsInvalidGrant reports whether err is a credential failure (bad email or
// password, revoked refresh token).
func IsInvalidGrant(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeInvalidGrant
}

// IsFactorNameConflict reports whether err is an enrollment label collision.
// Some provider versions return a dedicated code, older ones only mention the
// friendly name in the description, so both are checked.
func IsFactorNameConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == CodeFactorNameConflict {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Description), "friendly name")
}

// IsVerificationFailed reports whether err means the submitted code was
// wrong. Retrying with a fresh code against the same challenge is allowed.
func IsVerificationFailed(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.Code == CodeVerificationFailed || apiErr.Code == CodeInvalidGrant)
}

// parseErrorResponse turns a non-2xx response body into a typed error.
// The service emits OAuth2-style {"error","error_description"} bodies, with a
// {"code","msg"} variant on a few endpoints; both are handled, with a generic
// fallback built from the status code.
func parseErrorResponse(statusCode int, body []byte) error {
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		return &APIError{
			StatusCode:  statusCode,
			Code:        oauthErr.Error,
			Description: oauthErr.ErrorDescription,
		}
	}

	var altErr struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &altErr); err == nil && altErr.Code != "" {
		return &APIError{
			StatusCode:  statusCode,
			Code:        altErr.Code,
			Description: altErr.Msg,
		}
	}

	return &APIError{
		StatusCode:  statusCode,
		Code:        CodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode)),
	}
}
