package idp

import (
	"context"
	"net/http"
)

// ListFactors returns the caller's second-factor enrollments grouped by
// type. Unverified factors created in this session still carry their setup
// material.
func (c *Client) ListFactors(ctx context.Context, session *Session) (*FactorList, error) {
	raw, err := c.do(ctx, http.MethodGet, "/factors", session.AccessToken, nil)
	if err != nil {
		return nil, err
	}

	var fl FactorList
	if err := decode(raw, &fl); err != nil {
		return nil, err
	}
	return &fl, nil
}

// EnrollFactor registers a new TOTP factor with a human-readable label. The
// factor starts unverified; the response carries the shared secret and
// provisioning material the user scans into an authenticator app.
func (c *Client) EnrollFactor(ctx context.Context, session *Session, friendlyName string) (*Factor, error) {
	body := map[string]string{
		"factor_type":   "totp",
		"friendly_name": friendlyName,
	}

	raw, err := c.do(ctx, http.MethodPost, "/factors", session.AccessToken, body)
	if err != nil {
		return nil, err
	}

	var f Factor
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateChallenge issues a short-lived challenge for the given factor. The
// challenge pairs the factor with exactly one verification attempt.
func (c *Client) CreateChallenge(ctx context.Context, session *Session, factorID string) (*Challenge, error) {
	raw, err := c.do(ctx, http.MethodPost, "/factors/"+factorID+"/challenge", session.AccessToken, nil)
	if err != nil {
		return nil, err
	}

	var ch Challenge
	if err := decode(raw, &ch); err != nil {
		return nil, err
	}
	ch.FactorID = factorID
	return &ch, nil
}

// VerifyChallenge submits a TOTP code against a pending challenge. On
// success the service returns an upgraded (AAL2) session; on a wrong code it
// returns an error and the challenge may be retried until it expires.
func (c *Client) VerifyChallenge(
	ctx context.Context,
	session *Session,
	factorID, challengeID, code string,
) (*Session, error) {
	body := map[string]string{
		"challenge_id": challengeID,
		"code":         code,
	}

	raw, err := c.do(ctx, http.MethodPost, "/factors/"+factorID+"/verify", session.AccessToken, body)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := decode(raw, &tr); err != nil {
		return nil, err
	}
	return sessionFromToken(tr)
}
