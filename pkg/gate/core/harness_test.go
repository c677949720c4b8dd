package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/gate/config"
	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/gate/oidc"
	"github.com/ideamans/bsnlink/pkg/gate/session"
	"github.com/ideamans/bsnlink/pkg/shared/kvs"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// tokenServer is a fake provider token endpoint.
type tokenServer struct {
	server       *httptest.Server
	codeCalls    atomic.Int32
	refreshCalls atomic.Int32

	mu            sync.Mutex
	failRefresh      bool
	omitExpiresIn    bool
	omitRefreshToken bool
}

func (ts *tokenServer) set(f func(*tokenServer)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	f(ts)
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")

		ts.mu.Lock()
		fail, omit, noRefresh := ts.failRefresh, ts.omitExpiresIn, ts.omitRefreshToken
		ts.mu.Unlock()

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			ts.codeCalls.Add(1)
			if r.PostForm.Get("code") != "X" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
				return
			}
			if noRefresh {
				_, _ = w.Write([]byte(`{"access_token":"a","token_type":"Bearer","expires_in":3600}`))
				return
			}
			if omit {
				_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","token_type":"Bearer"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			ts.refreshCalls.Add(1)
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","token_type":"Bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

type fakeRegistry struct {
	calls  atomic.Int32
	person *brp.Person
	err    error
}

func (f *fakeRegistry) Lookup(ctx context.Context, bsn brp.BSN) (*brp.Person, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.person, nil
}

type fakeLinker struct {
	calls     atomic.Int32
	err       error
	token     string
	bsn       brp.BSN
	contactID string
}

func (f *fakeLinker) Link(ctx context.Context, accessToken string, bsn brp.BSN, person *brp.Person, contactID string) error {
	f.calls.Add(1)
	f.token, f.bsn, f.contactID = accessToken, bsn, contactID
	return f.err
}

func (f *fakeLinker) EntityURL(contactID string) string {
	return "https://crm.example/entity/" + contactID
}

type harness struct {
	gate     *Gate
	sessions *session.Manager
	kvs      kvs.Store
	tokens   *tokenServer
	registry *fakeRegistry
	linker   *fakeLinker
	metrics  *metrics.Metrics
	logger   *logging.TestLogger
}

type harnessOption func(*oidc.Options, *oidc.SecretSourceFunc)

func withSecretError(err error) harnessOption {
	return func(_ *oidc.Options, s *oidc.SecretSourceFunc) {
		*s = func(context.Context) (string, error) { return "", err }
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	backend, err := kvs.NewMemoryStore("session:", kvs.MemoryConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	h := &harness{
		kvs:      backend,
		tokens:   newTokenServer(t),
		registry: &fakeRegistry{person: testPerson("Nijmegen")},
		linker:   &fakeLinker{},
		metrics:  metrics.New(),
		logger:   logging.NewTestLogger(),
	}

	oidcOpts := oidc.Options{
		AuthURLBase: h.tokens.server.URL,
		RedirectURL: "https://bsnlink.example/auth",
		ClientID:    "bsnlink",
		Scope:       "openid",
		HTTPClient:  h.tokens.server.Client(),
	}
	secret := oidc.SecretSourceFunc(func(context.Context) (string, error) { return "s3cret", nil })
	for _, o := range opts {
		o(&oidcOpts, &secret)
	}
	client := oidc.NewClient(oidcOpts, secret, h.logger)

	h.sessions = session.NewManager(session.NewStore(backend, 240*time.Minute), client,
		session.Options{CookieName: "session", Secure: true, Metrics: h.metrics}, h.logger)

	cfg := &config.Config{
		Server: config.ServerConfig{BaseURL: "https://bsnlink.example", Metrics: true},
		BRP:    config.BRPConfig{Municipality: "Nijmegen"},
	}

	h.gate, err = New(Deps{
		Config:   cfg,
		Sessions: h.sessions,
		OIDC:     client,
		Registry: h.registry,
		Linker:   h.linker,
		Metrics:  h.metrics,
		Logger:   h.logger,
	})
	require.NoError(t, err)
	return h
}

func testPerson(gemeente string) *brp.Person {
	return &brp.Person{Persoon: &brp.Persoon{
		Persoonsgegevens: brp.Persoonsgegevens{Voornamen: "Suzanne", Achternaam: "Dijk", Naam: "S. van Dijk", Geboortedatum: "21-03-1980"},
		Adres:            brp.Adres{Straat: "Korte Nieuwstraat", Huisnummer: "6a", Postcode: "6511PP", Woonplaats: "Nijmegen", Gemeente: gemeente},
	}}
}

type request struct {
	method string
	target string
	form   url.Values
	cookie string
	json   bool
}

func (h *harness) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	method := req.method
	if method == "" {
		method = http.MethodGet
	}

	var r *http.Request
	if req.form != nil {
		r = httptest.NewRequest(method, req.target, strings.NewReader(req.form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		r = httptest.NewRequest(method, req.target, nil)
	}
	if req.cookie != "" {
		r.Header.Set("Cookie", req.cookie)
	}
	if req.json {
		r.Header.Set("Accept", "application/json")
	}

	rec := httptest.NewRecorder()
	h.gate.ServeHTTP(rec, r)
	return rec
}

// login stores a session directly and returns the Cookie header for it.
func (h *harness) login(t *testing.T, fields session.Session) (string, *session.Handle) {
	t.Helper()
	hd, err := h.sessions.Initialize(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, hd.Create(context.Background(), fields))
	c := hd.Cookie()
	return c.Name + "=" + c.Value, hd
}

func loggedInSession(expiresAt time.Time) session.Session {
	return session.Session{
		LoggedIn:     true,
		ContactID:    "abc123",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    expiresAt.UnixMilli(),
		XSRFToken:    "xsrf-1",
	}
}

// load reads the session named by a Cookie header.
func (h *harness) load(t *testing.T, cookie string) *session.Handle {
	t.Helper()
	hd, err := h.sessions.Initialize(context.Background(), cookie)
	require.NoError(t, err)
	return hd
}

func responseCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
