package panel_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFirstTimeUserJourney walks the complete new-account path: sign-up,
// sign-in, enrollment offer, QR code, enabling the factor, dashboard.
func TestFirstTimeUserJourney(t *testing.T) {
	idpSrv := startIdentityService(t)
	stack := startPanel(t, idpSrv.URL(), tempDB(t))
	b := newBrowser(t)

	creds := url.Values{"email": {"new@example.com"}, "password": {"hunter22"}}

	requireSeeOther(t, b.post(stack, "/auth/signup", creds), "/auth")
	require.Len(t, idpSrv.SignUpCalls, 1)

	requireSeeOther(t, b.post(stack, "/auth/signin", creds), "/auth")
	require.Equal(t, "setup", b.view(stack, "/auth")["view"])

	requireSeeOther(t, b.post(stack, "/auth/mfa/setup", nil), "/auth")
	setup := b.view(stack, "/auth")
	require.Equal(t, true, setup["has_material"])

	resp := b.get(stack, "/auth/mfa/qr.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	resp.Body.Close()

	requireSeeOther(t, b.post(stack, "/auth/mfa/enable", url.Values{
		"code": {idpSrv.TOTPCode("new@example.com")},
	}), "/")

	dash := b.view(stack, "/")
	require.Equal(t, "dashboard", dash["view"])
	require.Equal(t, "new@example.com", dash["email"])
	require.Equal(t, "aal2", dash["assurance_level"])
}

// TestReturningUserWithFactor covers the verification branch including a
// wrong code, which must keep the same challenge alive for a retry.
func TestReturningUserWithFactor(t *testing.T) {
	idpSrv := startIdentityService(t)
	idpSrv.AddUser("back@example.com", "hunter22")
	idpSrv.EnrollVerified("back@example.com", "Two-factor authentication")

	stack := startPanel(t, idpSrv.URL(), tempDB(t))
	b := newBrowser(t)

	requireSeeOther(t, b.post(stack, "/auth/signin", url.Values{
		"email": {"back@example.com"}, "password": {"hunter22"},
	}), "/auth")

	verify := b.view(stack, "/auth")
	require.Equal(t, "verify", verify["view"])
	require.Equal(t, 1, idpSrv.ChallengeCount())

	requireSeeOther(t, b.post(stack, "/auth/mfa/verify", url.Values{
		"code": {"000000"},
	}), "/auth")

	retry := b.view(stack, "/auth")
	require.Equal(t, "verify", retry["view"])
	require.Equal(t, verify["challenge_id"], retry["challenge_id"])
	require.Equal(t, 1, idpSrv.ChallengeCount(), "retry must not mint a new challenge")

	requireSeeOther(t, b.post(stack, "/auth/mfa/verify", url.Values{
		"code": {idpSrv.TOTPCode("back@example.com")},
	}), "/")
	require.Equal(t, "aal2", b.view(stack, "/")["assurance_level"])
}

// TestSessionSurvivesRestart signs in on one panel instance and replays the
// browser cookie against a second instance over the same database. The
// persisted refresh token must revive the session.
func TestSessionSurvivesRestart(t *testing.T) {
	idpSrv := startIdentityService(t)
	idpSrv.AddUser("restart@example.com", "hunter22")

	dbFile := tempDB(t)
	first := startPanel(t, idpSrv.URL(), dbFile)
	b := newBrowser(t)

	requireSeeOther(t, b.post(first, "/auth/signin", url.Values{
		"email": {"restart@example.com"}, "password": {"hunter22"},
	}), "/auth")
	requireSeeOther(t, b.post(first, "/auth/mfa/skip", nil), "/")
	require.Equal(t, "dashboard", b.view(first, "/")["view"])

	second := startPanel(t, idpSrv.URL(), dbFile)

	dash := b.view(second, "/")
	require.Equal(t, "dashboard", dash["view"])
	require.Equal(t, "restart@example.com", dash["email"])
}

// TestSignOutEndsSessionEverywhere signs out and confirms neither the live
// instance nor a freshly booted one will revive the session.
func TestSignOutEndsSessionEverywhere(t *testing.T) {
	idpSrv := startIdentityService(t)
	idpSrv.AddUser("out@example.com", "hunter22")

	dbFile := tempDB(t)
	first := startPanel(t, idpSrv.URL(), dbFile)
	b := newBrowser(t)

	requireSeeOther(t, b.post(first, "/auth/signin", url.Values{
		"email": {"out@example.com"}, "password": {"hunter22"},
	}), "/auth")
	requireSeeOther(t, b.post(first, "/auth/mfa/skip", nil), "/")
	requireSeeOther(t, b.post(first, "/auth/signout", nil), "/auth")

	requireSeeOther(t, b.get(first, "/"), "/auth")

	second := startPanel(t, idpSrv.URL(), dbFile)
	requireSeeOther(t, b.get(second, "/"), "/auth")
}

// TestFactorListingOutage exercises the documented fail-open: when the
// factor listing is unavailable right after a successful password check, the
// user proceeds without a second-factor prompt.
func TestFactorListingOutage(t *testing.T) {
	idpSrv := startIdentityService(t)
	idpSrv.AddUser("outage@example.com", "hunter22")
	idpSrv.EnrollVerified("outage@example.com", "Two-factor authentication")
	idpSrv.FailFactorList = true

	stack := startPanel(t, idpSrv.URL(), tempDB(t))
	b := newBrowser(t)

	requireSeeOther(t, b.post(stack, "/auth/signin", url.Values{
		"email": {"outage@example.com"}, "password": {"hunter22"},
	}), "/auth")

	dash := b.view(stack, "/")
	require.Equal(t, "dashboard", dash["view"])
	require.Equal(t, "aal1", dash["assurance_level"])
	require.Zero(t, idpSrv.ChallengeCount())
}

// TestChallengeOutage exercises the challenge-issuance failure branch: the
// verification branch aborts with an error notice and no flow starts, so the
// password-only session stands at reduced assurance.
func TestChallengeOutage(t *testing.T) {
	idpSrv := startIdentityService(t)
	idpSrv.AddUser("ch@example.com", "hunter22")
	idpSrv.EnrollVerified("ch@example.com", "Two-factor authentication")
	idpSrv.FailChallenge = true

	stack := startPanel(t, idpSrv.URL(), tempDB(t))
	b := newBrowser(t)

	requireSeeOther(t, b.post(stack, "/auth/signin", url.Values{
		"email": {"ch@example.com"}, "password": {"hunter22"},
	}), "/auth")

	dash := b.view(stack, "/")
	require.Equal(t, "dashboard", dash["view"])
	require.Equal(t, "aal1", dash["assurance_level"])

	notices := dash["notices"].([]any)
	require.NotEmpty(t, notices)
	require.Equal(t, "error", notices[0].(map[string]any)["level"])
}
