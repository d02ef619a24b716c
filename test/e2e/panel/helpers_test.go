// Package panel_test runs end-to-end flows against a fully wired panel
// backed by an in-process fake of the hosted identity service. Real TOTP
// codes, real HTTP, real SQLite; only the identity service is substituted.
package panel_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carteralabs/panel/internal/idptest"
	panelhttp "github.com/carteralabs/panel/internal/panel/http"
	"github.com/carteralabs/panel/internal/panel/store"
	"github.com/carteralabs/panel/pkg/idp"

	"github.com/stretchr/testify/require"
)

// panelStack is one running panel instance. The database file outlives the
// stack so a second instance can be booted over it to model a restart.
type panelStack struct {
	ts       *httptest.Server
	registry *panelhttp.Registry
}

func startPanel(t *testing.T, idpURL, dbFile string) *panelStack {
	t.Helper()

	st, err := store.Open(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	sealer, err := store.NewSealer("e2e-passphrase")
	require.NoError(t, err)

	client := idp.NewClient(idpURL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := panelhttp.NewRegistry(panelhttp.RegistryConfig{
		Service:   client,
		Store:     st,
		Sealer:    sealer,
		Refresher: client,
		Logger:    logger,
		AppRoot:   "https://panel.example/",
	})
	t.Cleanup(registry.Close)

	router := panelhttp.NewRouter(registry, st, "e2e", logger)
	router.ApplyRoutes()

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &panelStack{ts: ts, registry: registry}
}

// browser is a minimal cookie-carrying client. The session cookie is tracked
// explicitly so it can be replayed against a different panel instance, which
// a host-keyed cookie jar would refuse to do.
type browser struct {
	t   *testing.T
	sid string
}

func newBrowser(t *testing.T) *browser { return &browser{t: t} }

func (b *browser) do(stack *panelStack, method, path string, form url.Values) *http.Response {
	b.t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, stack.ts.URL+path, body)
	require.NoError(b.t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if b.sid != "" {
		req.AddCookie(&http.Cookie{Name: "panel_sid", Value: b.sid})
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	require.NoError(b.t, err)

	for _, c := range resp.Cookies() {
		if c.Name == "panel_sid" {
			b.sid = c.Value
		}
	}
	return resp
}

func (b *browser) get(stack *panelStack, path string) *http.Response {
	return b.do(stack, http.MethodGet, path, nil)
}

func (b *browser) post(stack *panelStack, path string, form url.Values) *http.Response {
	return b.do(stack, http.MethodPost, path, form)
}

func (b *browser) view(stack *panelStack, path string) map[string]any {
	b.t.Helper()

	resp := b.get(stack, path)
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(b.t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func requireSeeOther(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, location, resp.Header.Get("Location"))
}

func startIdentityService(t *testing.T) *idptest.Server {
	t.Helper()
	srv := idptest.New()
	t.Cleanup(srv.Close)
	return srv
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "panel.db")
}
