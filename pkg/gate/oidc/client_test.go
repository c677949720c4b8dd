package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// fakeProvider is a token endpoint that records what it receives.
type fakeProvider struct {
	server *httptest.Server
	calls  atomic.Int32

	mu       sync.Mutex
	lastForm url.Values
	respond  func(w http.ResponseWriter, form url.Values)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		respond: func(w http.ResponseWriter, form url.Values) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token":  "a",
				"refresh_token": "r",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"id_token":      "id",
			})
		},
	}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		p.calls.Add(1)
		_ = r.ParseForm()
		p.mu.Lock()
		p.lastForm = r.PostForm
		respond := p.respond
		p.mu.Unlock()
		respond(w, r.PostForm)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) form() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type countingSecret struct {
	calls atomic.Int32
	value string
	err   error
}

func (s *countingSecret) ClientSecret(context.Context) (string, error) {
	s.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return s.value, s.err
}

func newTestClient(t *testing.T, base string, secret SecretSource) *Client {
	t.Helper()
	return NewClient(Options{
		AuthURLBase: base,
		RedirectURL: "https://gate.example.nl/auth",
		ClientID:    "bsnlink",
		Scope:       "openid idp_scoping:digid",
		Timeout:     2 * time.Second,
	}, secret, logging.NewTestLogger())
}

func TestClient_AuthorizationURL(t *testing.T) {
	c := newTestClient(t, "https://auth.example.nl/oidc", &countingSecret{value: "s"})

	raw, err := c.AuthorizationURL("S")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "auth.example.nl", u.Host)
	assert.Equal(t, "/oidc/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "bsnlink", q.Get("client_id"))
	assert.Equal(t, "https://gate.example.nl/auth", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid idp_scoping:digid", q.Get("scope"))
	assert.Equal(t, "S", q.Get("state"))
	assert.Equal(t, "https://auth.example.nl/oidc", q.Get("resource"))

	again, err := c.AuthorizationURL("S")
	require.NoError(t, err)
	assert.Equal(t, raw, again, "the URL is deterministic")
}

func TestClient_AuthorizationURL_Configuration(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no base url", Options{AuthURLBase: "https://auth", ClientID: "c"}},
		{"no client id", Options{AuthURLBase: "https://auth", RedirectURL: "https://gate/auth"}},
		{"no endpoints", Options{RedirectURL: "https://gate/auth", ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.opts, nil, logging.NewTestLogger())
			_, err := c.AuthorizationURL("S")
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestClient_Exchange(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p.server.URL, &countingSecret{value: "top-secret"})

	tokens, err := c.Exchange(context.Background(), "X", "S", "S")
	require.NoError(t, err)

	assert.Equal(t, "a", tokens.AccessToken)
	assert.Equal(t, "r", tokens.RefreshToken)
	assert.Equal(t, "id", tokens.IDToken)
	assert.InDelta(t, 3600, tokens.ExpiresIn, 2)

	form := p.form()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "X", form.Get("code"))
	assert.Equal(t, "bsnlink", form.Get("client_id"))
	assert.Equal(t, "top-secret", form.Get("client_secret"), "client_secret_post")
	assert.Equal(t, "https://gate.example.nl/auth", form.Get("redirect_uri"))
}

func TestClient_Exchange_StateMismatchNeverCallsProvider(t *testing.T) {
	p := newFakeProvider(t)
	secret := &countingSecret{value: "s"}
	c := newTestClient(t, p.server.URL, secret)

	for _, returned := range []string{"WRONG", "", "S ", "s"} {
		_, err := c.Exchange(context.Background(), "X", "S", returned)

		var ae *AuthenticationError
		require.True(t, errors.As(err, &ae), "returned %q", returned)
		assert.Equal(t, "state_mismatch", ae.Code)
	}

	_, err := c.Exchange(context.Background(), "X", "", "")
	assert.True(t, IsAuthenticationError(err), "an empty stored state never matches")

	assert.Zero(t, p.calls.Load(), "token endpoint must not be called")
	assert.Zero(t, secret.calls.Load(), "secret must not be fetched")
}

func TestClient_Exchange_ProviderError(t *testing.T) {
	p := newFakeProvider(t)
	p.respond = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Code not valid",
		})
	}
	c := newTestClient(t, p.server.URL, &countingSecret{value: "s"})

	_, err := c.Exchange(context.Background(), "X", "S", "S")

	var ae *AuthenticationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "invalid_grant", ae.Code)
	assert.Equal(t, "Code not valid", ae.Description)
}

func TestClient_Exchange_IncompleteTokens(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"no refresh token", map[string]interface{}{"access_token": "a", "token_type": "Bearer", "expires_in": 3600}},
		{"empty refresh token", map[string]interface{}{"access_token": "a", "refresh_token": "", "token_type": "Bearer"}},
		{"no access token", map[string]interface{}{"refresh_token": "r", "token_type": "Bearer"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			p.respond = func(w http.ResponseWriter, _ url.Values) {
				writeJSON(w, http.StatusOK, tt.body)
			}
			c := newTestClient(t, p.server.URL, &countingSecret{value: "s"})

			tokens, err := c.Exchange(context.Background(), "X", "S", "S")
			assert.Nil(t, tokens)
			assert.True(t, IsAuthenticationError(err), "got %v", err)
		})
	}
}

func TestTokenSet_Validate(t *testing.T) {
	assert.NoError(t, (&TokenSet{AccessToken: "a", RefreshToken: "r"}).Validate())

	var ae *AuthenticationError
	require.ErrorAs(t, (&TokenSet{AccessToken: "a"}).Validate(), &ae)
	assert.Equal(t, "incomplete_token_response", ae.Code)
	assert.Error(t, (&TokenSet{RefreshToken: "r"}).Validate())
	assert.Error(t, (*TokenSet)(nil).Validate())
}

func TestClient_Exchange_Unreachable(t *testing.T) {
	p := newFakeProvider(t)
	base := p.server.URL
	p.server.Close()

	c := newTestClient(t, base, &countingSecret{value: "s"})
	_, err := c.Exchange(context.Background(), "X", "S", "S")

	var ae *AuthenticationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "token_endpoint_unavailable", ae.Code)
}

func TestClient_Exchange_SecretFailureIsNotAuthentication(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p.server.URL, &countingSecret{err: errors.New("access denied")})

	_, err := c.Exchange(context.Background(), "X", "S", "S")
	require.Error(t, err)
	assert.False(t, IsAuthenticationError(err))
	assert.Zero(t, p.calls.Load())
}

func TestClient_Refresh(t *testing.T) {
	p := newFakeProvider(t)
	p.respond = func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "a2",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}
	c := newTestClient(t, p.server.URL, &countingSecret{value: "s"})

	tokens, err := c.Refresh(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", p.form().Get("grant_type"))
	assert.Equal(t, "r1", p.form().Get("refresh_token"))
	assert.Equal(t, "a2", tokens.AccessToken)
	assert.Equal(t, "r1", tokens.RefreshToken, "old refresh token is kept when not rotated")
	assert.InDelta(t, 300, tokens.ExpiresIn, 2)
}

func TestClient_Refresh_WithoutExpiresIn(t *testing.T) {
	p := newFakeProvider(t)
	p.respond = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "a2", "refresh_token": "r2", "token_type": "Bearer"})
	}
	c := newTestClient(t, p.server.URL, &countingSecret{value: "s"})

	tokens, err := c.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Zero(t, tokens.ExpiresIn)
	assert.Equal(t, "r2", tokens.RefreshToken)
}

func TestClient_Refresh_Rejected(t *testing.T) {
	p := newFakeProvider(t)
	p.respond = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	}
	c := newTestClient(t, p.server.URL, &countingSecret{value: "s"})

	_, err := c.Refresh(context.Background(), "r1")
	assert.True(t, IsAuthenticationError(err))

	_, err = c.Refresh(context.Background(), "")
	assert.True(t, IsAuthenticationError(err))
}

func TestClient_SecretIsMemoized(t *testing.T) {
	p := newFakeProvider(t)
	secret := &countingSecret{value: "s"}
	c := newTestClient(t, p.server.URL, secret)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Exchange(context.Background(), "X", "S", "S")
		}()
	}
	wg.Wait()
	_, err := c.Refresh(context.Background(), "r")
	require.NoError(t, err)

	assert.EqualValues(t, 1, secret.calls.Load())
}

func TestClient_SecretFailureIsRetried(t *testing.T) {
	secret := &countingSecret{err: errors.New("throttled")}
	cache := &secretCache{source: secret}

	_, err := cache.get(context.Background())
	require.Error(t, err)

	secret.err, secret.value = nil, "s"
	v, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s", v)
	assert.EqualValues(t, 2, secret.calls.Load())
}

func TestGenerateState(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := GenerateState()
		require.NoError(t, err)
		assert.Len(t, s, 43, "32 bytes base64url without padding")
		assert.NotContains(t, s, "=")
		assert.False(t, seen[s])
		seen[s] = true
	}
}

func TestDiscover(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"issuer":                 server.URL,
			"authorization_endpoint": server.URL + "/authorize",
			"token_endpoint":         server.URL + "/oauth/token",
			"jwks_uri":               server.URL + "/jwks",
		})
	}))
	defer server.Close()

	endpoint, err := Discover(context.Background(), server.URL, server.Client())
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/authorize", endpoint.AuthURL)
	assert.Equal(t, server.URL+"/oauth/token", endpoint.TokenURL)

	c := NewClient(Options{
		AuthURLBase: server.URL,
		RedirectURL: "https://gate/auth",
		ClientID:    "c",
		Endpoint:    endpoint,
	}, nil, logging.NewTestLogger())
	raw, err := c.AuthorizationURL("S")
	require.NoError(t, err)
	assert.Contains(t, raw, server.URL+"/authorize?")
}

func TestDiscover_Failure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := Discover(context.Background(), server.URL, nil)
	assert.Error(t, err)
}
