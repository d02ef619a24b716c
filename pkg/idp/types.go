package idp

import "time"

// Assurance levels reported by the identity service for a session.
const (
	AAL1 = "aal1" // password only
	AAL2 = "aal2" // password plus verified second factor
)

// Factor lifecycle statuses.
const (
	FactorStatusUnverified = "unverified"
	FactorStatusVerified   = "verified"
)

// Identity is the opaque user reference issued by the identity service.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is a read-only snapshot of a service-issued credential bundle.
// The service remains the source of truth; callers refresh rather than
// mutate.
type Session struct {
	AccessToken    string
	RefreshToken   string
	TokenType      string
	ExpiresAt      time.Time
	AssuranceLevel string // AAL1 or AAL2
	User           Identity
}

// Expired reports whether the access token is past its expiry, with a small
// buffer so tokens are refreshed before they actually lapse.
func (s *Session) Expired() bool {
	if s == nil {
		return true
	}
	return time.Now().After(s.ExpiresAt.Add(-30 * time.Second))
}

// TOTPSecret is the setup material attached to a freshly created or still
// unverified factor.
type TOTPSecret struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code"`
	URI    string `json:"uri"`
}

// Factor is a registered second factor.
type Factor struct {
	ID           string      `json:"id"`
	Type         string      `json:"factor_type"`
	FriendlyName string      `json:"friendly_name"`
	Status       string      `json:"status"`
	TOTP         *TOTPSecret `json:"totp,omitempty"`
}

// FactorList groups the caller's enrollments by type.
type FactorList struct {
	TOTP []Factor `json:"totp"`
}

// FirstVerifiedTOTP returns the first verified TOTP factor, if any. The
// panel treats that one as "the" active factor.
func (fl *FactorList) FirstVerifiedTOTP() (Factor, bool) {
	for _, f := range fl.TOTP {
		if f.Status == FactorStatusVerified {
			return f, true
		}
	}
	return Factor{}, false
}

// FirstUnverifiedTOTP returns the first unverified TOTP factor, if any.
func (fl *FactorList) FirstUnverifiedTOTP() (Factor, bool) {
	for _, f := range fl.TOTP {
		if f.Status == FactorStatusUnverified {
			return f, true
		}
	}
	return Factor{}, false
}

// Challenge is a short-lived, single-use verification attempt bound to a
// factor.
type Challenge struct {
	ID        string    `json:"id"`
	FactorID  string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// tokenResponse is the wire form of a token grant or verify response.
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	User         Identity `json:"user"`
}
