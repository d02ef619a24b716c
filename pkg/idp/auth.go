package idp

import (
	"context"
	"net/http"
)

// PasswordSignIn exchanges email/password credentials for a session. The
// returned session is at AAL1 even when the user has a verified second
// factor; completing a challenge upgrades it.
func (c *Client) PasswordSignIn(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	raw, err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := decode(raw, &tr); err != nil {
		return nil, err
	}
	return sessionFromToken(tr)
}

// SignUp creates a new account. The service sends a confirmation email whose
// link redirects to redirectTo, normally the application root.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) error {
	body := map[string]string{
		"email":       email,
		"password":    password,
		"redirect_to": redirectTo,
	}

	_, err := c.do(ctx, http.MethodPost, "/signup", "", body)
	return err
}

// SignOut revokes the session on the service side.
func (c *Client) SignOut(ctx context.Context, session *Session) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", session.AccessToken, nil)
	return err
}

// RefreshSession exchanges a refresh token for a fresh session. Refresh
// tokens rotate: the returned session carries the replacement.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{
		"refresh_token": refreshToken,
	}

	raw, err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := decode(raw, &tr); err != nil {
		return nil, err
	}
	return sessionFromToken(tr)
}
