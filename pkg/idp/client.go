package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the hosted identity service. It is stateless; session
// state lives in the *Session values it returns.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the identity service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

// do performs a JSON request. A non-empty accessToken is sent as a Bearer
// credential. The response body is returned for decoding; non-2xx statuses
// become typed *APIError values.
func (c *Client) do(
	ctx context.Context,
	method, path, accessToken string,
	reqBody any,
) ([]byte, error) {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorResponse(resp.StatusCode, raw)
	}
	return raw, nil
}

// decode unmarshals raw into target, tolerating empty bodies when target is
// nil.
func decode(raw []byte, target any) error {
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// sessionFromToken builds a Session snapshot from a token grant response.
// Identity and assurance details live in the (service-signed) access token
// claims; signature verification is the service's concern, not ours.
func sessionFromToken(tr tokenResponse) (*Session, error) {
	sess := &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		User:         tr.User,
	}

	claims, err := decodeSessionClaims(tr.AccessToken)
	if err != nil {
		return nil, err
	}

	sess.AssuranceLevel = claims.AssuranceLevel
	if sess.AssuranceLevel == "" {
		sess.AssuranceLevel = AAL1
	}
	if sess.User.ID == "" {
		sess.User = Identity{ID: claims.Subject, Email: claims.Email}
	}
	if !claims.expiresAt.IsZero() {
		sess.ExpiresAt = claims.expiresAt
	}
	return sess, nil
}
