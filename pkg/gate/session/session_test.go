package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/gate/oidc"
	"github.com/ideamans/bsnlink/pkg/shared/kvs"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// fakeRefresher counts refresh calls and returns canned tokens.
type fakeRefresher struct {
	calls  atomic.Int32
	tokens *oidc.TokenSet
	err    error

	// during runs inside Refresh, before the result is returned.
	during func()
	// gate, when set, blocks Refresh until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oidc.TokenSet, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	ts := *f.tokens
	return &ts, nil
}

func (f *fakeRefresher) GenerateState() (string, error) {
	return oidc.GenerateState()
}

type fixture struct {
	kvs       kvs.Store
	store     *Store
	manager   *Manager
	refresher *fakeRefresher
	logger    *logging.TestLogger
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := kvs.NewMemoryStore("session:", kvs.MemoryConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	f := &fixture{
		kvs:       backend,
		store:     NewStore(backend, 240*time.Minute),
		refresher: &fakeRefresher{tokens: &oidc.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}},
		logger:    logging.NewTestLogger(),
		metrics:   metrics.New(),
	}
	f.manager = NewManager(f.store, f.refresher, Options{CookieName: "session", Secure: true, Metrics: f.metrics}, f.logger)
	return f
}

func (f *fixture) newSession(t *testing.T, fields Session) *Handle {
	t.Helper()
	h, err := f.manager.Initialize(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, h.Create(context.Background(), fields))
	return h
}

func (f *fixture) reopen(t *testing.T, h *Handle) *Handle {
	t.Helper()
	again, err := f.manager.Initialize(context.Background(), cookieHeader(h))
	require.NoError(t, err)
	require.True(t, again.Found())
	return again
}

// cookieHeader renders the handle's cookie the way a browser sends it back.
func cookieHeader(h *Handle) string {
	c := h.Cookie()
	return (&http.Cookie{Name: c.Name, Value: c.Value}).String()
}

func loggedIn(expiresAt time.Time) Session {
	return Session{
		LoggedIn:     true,
		ContactID:    "abc123",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    expiresAt.UnixMilli(),
		XSRFToken:    "x1",
	}
}

func TestInitialize_NoSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, header := range []string{
		"",
		"other=1",
		"session=",
		"session=not-a-session-id",
		"session=" + strings.Repeat("A", 43),
		`broken"cookie; session=` + strings.Repeat("B", 43),
	} {
		h, err := f.manager.Initialize(ctx, header)
		require.NoError(t, err, header)
		assert.False(t, h.Found(), header)
		assert.False(t, h.IsLoggedIn())
		assert.Empty(t, h.ID())
		assert.Nil(t, h.Cookie())
	}
}

func TestInitialize_StoreFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.kvs.Close())

	_, err := f.manager.Initialize(context.Background(), "session="+strings.Repeat("A", 43))
	assert.ErrorIs(t, err, kvs.ErrClosed)
}

func TestCreate_RoundTrip(t *testing.T) {
	f := newFixture(t)
	fields := Session{LoggedIn: false, State: "S", ContactID: "abc123"}

	h := f.newSession(t, fields)
	require.True(t, h.Found())
	assert.Len(t, h.ID(), 43)

	again, err := f.manager.Initialize(context.Background(), "lang=nl; "+cookieHeader(h))
	require.NoError(t, err)
	require.True(t, again.Found())

	got := again.Session()
	assert.Equal(t, h.ID(), got.ID)
	assert.Equal(t, fields.State, got.State)
	assert.Equal(t, fields.ContactID, got.ContactID)
	assert.False(t, again.IsLoggedIn())
	assert.EqualValues(t, 1, got.Version)
	assert.NotZero(t, got.CreatedAt)
}

func TestCreate_SupersedesPreviousSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h := f.newSession(t, Session{State: "S1"})
	oldID := h.ID()

	require.NoError(t, h.Create(ctx, Session{State: "S2"}))
	assert.NotEqual(t, oldID, h.ID())

	_, err := f.store.Get(ctx, oldID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCookie_Attributes(t *testing.T) {
	f := newFixture(t)
	h := f.newSession(t, Session{})

	c := h.Cookie()
	assert.Equal(t, "session", c.Name)
	assert.Equal(t, h.ID(), c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 240*60, c.MaxAge)

	cleared := f.manager.ClearCookie()
	assert.Equal(t, "session", cleared.Name)
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Contains(t, cleared.String(), "Max-Age=0")
}

func TestStore_CreateNeverOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := &Session{ID: strings.Repeat("A", 43), State: "S"}
	require.NoError(t, f.store.Create(ctx, first))

	second := &Session{ID: first.ID, State: "other"}
	assert.ErrorIs(t, f.store.Create(ctx, second), ErrConflict)

	got, err := f.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "S", got.State)
}

func TestStore_UpdateIsConditional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := &Session{ID: strings.Repeat("A", 43)}
	require.NoError(t, f.store.Create(ctx, sess))
	created := sess.CreatedAt

	stale := *sess
	sess.ContactID = "c1"
	require.NoError(t, f.store.Update(ctx, sess))
	assert.EqualValues(t, 2, sess.Version)

	stale.ContactID = "c2"
	assert.ErrorIs(t, f.store.Update(ctx, &stale), ErrConflict)

	sess.CreatedAt = 1
	require.NoError(t, f.store.Update(ctx, sess))
	assert.Equal(t, created, sess.CreatedAt, "created_at is never rewritten")

	missing := &Session{ID: strings.Repeat("B", 43), Version: 1}
	assert.ErrorIs(t, f.store.Update(ctx, missing), ErrSessionNotFound)
}

func TestStore_Count(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, Session{})
	f.newSession(t, Session{})

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHandle_UpdateReappliesAfterConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h1 := f.newSession(t, Session{State: "S"})
	h2 := f.reopen(t, h1)

	require.NoError(t, h1.Update(ctx, func(s *Session) { s.ContactID = "c1" }))
	require.NoError(t, h2.Update(ctx, func(s *Session) { s.State = "" }))

	got := f.reopen(t, h1).Session()
	assert.Equal(t, "c1", got.ContactID, "the first writer's change survives")
	assert.Empty(t, got.State)
	assert.EqualValues(t, 3, got.Version)
}

func TestHandle_UpdateWithoutSession(t *testing.T) {
	f := newFixture(t)
	h, err := f.manager.Initialize(context.Background(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, h.Update(context.Background(), func(*Session) {}), ErrSessionNotFound)
	assert.ErrorIs(t, h.Reload(context.Background()), ErrSessionNotFound)
}

func TestRefreshIfExpired_NotExpiredIsNoop(t *testing.T) {
	f := newFixture(t)
	h := f.newSession(t, loggedIn(time.Now().Add(time.Hour)))

	assert.False(t, f.manager.RefreshIfExpired(context.Background(), h))
	assert.False(t, f.manager.RefreshIfExpired(context.Background(), h))
	assert.Zero(t, f.refresher.calls.Load())
}

func TestRefreshIfExpired_Refreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.newSession(t, loggedIn(time.Now().Add(-time.Minute)))
	before := h.Session()

	require.True(t, f.manager.RefreshIfExpired(ctx, h))
	assert.EqualValues(t, 1, f.refresher.calls.Load())

	after := f.reopen(t, h).Session()
	assert.Equal(t, "a2", after.AccessToken)
	assert.Equal(t, "r2", after.RefreshToken)
	assert.Greater(t, after.ExpiresAt, before.ExpiresAt)
	assert.InDelta(t, time.Now().Add(time.Hour).UnixMilli(), after.ExpiresAt, 5000)
	assert.NotEqual(t, before.XSRFToken, after.XSRFToken)
	assert.True(t, after.LoggedIn)
	assert.Equal(t, h.Session(), after, "handle follows the stored record")

	assert.False(t, f.manager.RefreshIfExpired(ctx, h), "second call finds fresh tokens")
	assert.EqualValues(t, 1, f.refresher.calls.Load())
}

func TestRefreshIfExpired_DefaultExpiresIn(t *testing.T) {
	f := newFixture(t)
	f.refresher.tokens = &oidc.TokenSet{AccessToken: "a2"}
	h := f.newSession(t, loggedIn(time.Now().Add(-time.Minute)))

	require.True(t, f.manager.RefreshIfExpired(context.Background(), h))

	got := h.Session()
	assert.InDelta(t, time.Now().Add(DefaultExpiresIn*time.Second).UnixMilli(), got.ExpiresAt, 5000)
	assert.Equal(t, "r1", got.RefreshToken, "refresh token kept when not rotated")
}

func TestRefreshIfExpired_FailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.refresher.err = &oidc.AuthenticationError{Code: "invalid_grant"}
	h := f.newSession(t, loggedIn(time.Now().Add(-time.Minute)))
	before := h.Session()

	assert.False(t, f.manager.RefreshIfExpired(context.Background(), h))

	after := f.reopen(t, h).Session()
	assert.True(t, after.LoggedIn, "a failed refresh never logs out")
	assert.Equal(t, before.AccessToken, after.AccessToken)
	assert.Equal(t, before.XSRFToken, after.XSRFToken)
	assert.True(t, f.logger.Has(logging.LevelWarn, "Session refresh failed"))
}

func TestRefreshIfExpired_ConcurrentWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.newSession(t, loggedIn(time.Now().Add(-time.Minute)))
	other := f.reopen(t, h)

	f.refresher.during = func() {
		require.NoError(t, other.Update(ctx, func(s *Session) {
			s.AccessToken = "fresher"
			s.ExpiresAt = time.Now().Add(time.Hour).UnixMilli()
			s.XSRFToken = "x-other"
		}))
	}

	assert.False(t, f.manager.RefreshIfExpired(ctx, h))

	assert.Equal(t, "fresher", h.Session().AccessToken, "handle reloaded with the stored record")
	assert.Equal(t, "fresher", f.reopen(t, h).Session().AccessToken, "concurrent tokens not overwritten")
}

func TestRefreshIfExpired_CollapsesConcurrentRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h1 := f.newSession(t, loggedIn(time.Now().Add(-time.Minute)))
	h2 := f.reopen(t, h1)

	f.refresher.gate = make(chan struct{})
	f.refresher.entered = make(chan struct{}, 2)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.manager.RefreshIfExpired(ctx, h1)
	}()
	<-f.refresher.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = f.manager.RefreshIfExpired(ctx, h2)
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.refresher.gate)
	wg.Wait()

	assert.EqualValues(t, 1, f.refresher.calls.Load())
	assert.Equal(t, []bool{true, true}, results)
	assert.Equal(t, h1.Session(), h2.Session())
}

func TestRefreshIfExpired_FirstCallerCancelled(t *testing.T) {
	f := newFixture(t)
	h1 := f.newSession(t, loggedIn(time.Now().Add(-time.Minute)))
	h2 := f.reopen(t, h1)

	f.refresher.gate = make(chan struct{})
	f.refresher.entered = make(chan struct{}, 2)

	ctx1, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.manager.RefreshIfExpired(ctx1, h1)
	}()
	<-f.refresher.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = f.manager.RefreshIfExpired(context.Background(), h2)
	}()
	time.Sleep(50 * time.Millisecond)

	// The client of the first request goes away mid-refresh
	cancel()
	close(f.refresher.gate)
	wg.Wait()

	assert.EqualValues(t, 1, f.refresher.calls.Load())
	assert.Equal(t, []bool{true, true}, results)
	assert.Equal(t, "a2", h2.Session().AccessToken)

	stored, err := f.store.Get(context.Background(), h1.ID())
	require.NoError(t, err)
	assert.Equal(t, "a2", stored.AccessToken)
}

func TestRefreshIfExpired_NotLoggedIn(t *testing.T) {
	f := newFixture(t)
	h := f.newSession(t, Session{State: "S"})

	assert.False(t, f.manager.RefreshIfExpired(context.Background(), h))
	assert.Zero(t, f.refresher.calls.Load())
}

func TestValidateStateChangingRequest(t *testing.T) {
	f := newFixture(t)
	withToken := f.newSession(t, loggedIn(time.Now().Add(time.Hour)))
	withoutToken := f.newSession(t, Session{LoggedIn: true})
	none, err := f.manager.Initialize(context.Background(), "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		handle *Handle
		method string
		token  string
		want   bool
	}{
		{"GET passes", withToken, http.MethodGet, "", true},
		{"HEAD passes", withToken, http.MethodHead, "", true},
		{"OPTIONS passes", none, http.MethodOptions, "", true},
		{"POST with matching token", withToken, http.MethodPost, "x1", true},
		{"POST with wrong token", withToken, http.MethodPost, "x2", false},
		{"POST with empty token", withToken, http.MethodPost, "", false},
		{"POST with token prefix", withToken, http.MethodPost, "x", false},
		{"POST when session has no token", withoutToken, http.MethodPost, "", false},
		{"POST without session", none, http.MethodPost, "x1", false},
		{"PUT needs token too", withToken, http.MethodPut, "nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.manager.ValidateStateChangingRequest(tt.handle, tt.method, tt.token))
		})
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	assert.True(t, (&Session{ExpiresAt: now.UnixMilli()}).Expired(now))
	assert.True(t, (&Session{}).Expired(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Second).UnixMilli()}).Expired(now))
}

func TestStore_CorruptRecord(t *testing.T) {
	f := newFixture(t)
	id := strings.Repeat("C", 43)
	require.NoError(t, f.kvs.Set(context.Background(), id, []byte("{"), time.Minute))

	_, err := f.manager.Initialize(context.Background(), "session="+id)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionNotFound))
}

func TestStore_Ping(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Ping(context.Background()))

	require.NoError(t, f.kvs.Close())
	err := f.store.Ping(context.Background())
	assert.ErrorIs(t, err, kvs.ErrClosed)
}
