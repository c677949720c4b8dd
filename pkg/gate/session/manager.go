package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/gate/oidc"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// TokenRefresher is the part of the OIDC client the manager needs.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oidc.TokenSet, error)
	GenerateState() (string, error)
}

// DefaultExpiresIn is the token lifetime in seconds assumed when the
// provider does not report one.
const DefaultExpiresIn = 60

// Options configures the session cookie.
type Options struct {
	CookieName string
	Secure     bool
	Metrics    *metrics.Metrics

	// Now replaces the clock in tests.
	Now func() time.Time
}

// Manager implements the session lifecycle on top of a Store.
type Manager struct {
	store     *Store
	refresher TokenRefresher
	logger    logging.Logger
	metrics   *metrics.Metrics

	cookieName string
	secure     bool
	now        func() time.Time

	refreshes singleflight.Group
}

// NewManager creates a manager.
func NewManager(store *Store, refresher TokenRefresher, opts Options, logger logging.Logger) *Manager {
	name := opts.CookieName
	if name == "" {
		name = "session"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:      store,
		refresher:  refresher,
		logger:     logger.WithModule("session"),
		metrics:    opts.Metrics,
		cookieName: name,
		secure:     opts.Secure,
		now:        now,
	}
}

// Store returns the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

// Initialize resolves the session named by the session cookie in a raw
// Cookie header. A missing cookie, an unknown id or an expired record yield
// a handle with Found() == false; only store failures are returned.
func (m *Manager) Initialize(ctx context.Context, cookieHeader string) (*Handle, error) {
	h := &Handle{m: m}

	id := m.cookieValue(cookieHeader)
	if id == "" || !validID(id) {
		return h, nil
	}

	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return h, nil
	}
	if err != nil {
		return nil, err
	}

	h.sess = sess
	return h, nil
}

// cookieValue finds the session cookie. Malformed cookies of other
// applications on the same domain are skipped.
func (m *Manager) cookieValue(header string) string {
	for _, part := range strings.Split(header, ";") {
		cookies, err := http.ParseCookie(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == m.cookieName {
				return c.Value
			}
		}
	}
	return ""
}

// RefreshIfExpired refreshes the tokens of a logged-in session whose access
// token has expired, rotating the XSRF token with them. It reports whether
// the handle now carries fresh tokens.
//
// Failures are logged and counted but never end the session: the stale
// tokens stay in place and the next request tries again. When another
// request rotated the tokens first, the handle is reloaded with that
// fresher record instead of overwriting it.
func (m *Manager) RefreshIfExpired(ctx context.Context, h *Handle) bool {
	if !h.Found() || !h.sess.LoggedIn || !h.sess.Expired(m.now()) {
		return false
	}

	loaded := *h.sess
	v, err, _ := m.refreshes.Do(loaded.ID, func() (interface{}, error) {
		// Shared by every caller waiting on this session, so it must not
		// end when the first caller's request does.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(rctx, loaded)
	})
	if err != nil {
		m.metrics.IncRefresh("error")
		m.logger.Warn("Session refresh failed", "session", logging.Mask(loaded.ID), "error", err)
		return false
	}

	res := v.(refreshResult)
	s := *res.sess
	h.sess = &s
	if !res.refreshed {
		m.metrics.IncRefresh("conflict")
		m.logger.Info("Session refreshed concurrently, using stored tokens", "session", logging.Mask(loaded.ID))
		return false
	}

	m.metrics.IncRefresh("success")
	return true
}

// refreshTimeout bounds a shared refresh: the provider call plus the store
// writes.
const refreshTimeout = 30 * time.Second

type refreshResult struct {
	sess      *Session
	refreshed bool
}

func (m *Manager) refresh(ctx context.Context, loaded Session) (refreshResult, error) {
	tokens, err := m.refresher.Refresh(ctx, loaded.RefreshToken)
	if err != nil {
		return refreshResult{}, err
	}
	xsrf, err := m.refresher.GenerateState()
	if err != nil {
		return refreshResult{}, err
	}

	expiresIn := tokens.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}

	next := loaded
	next.LoggedIn = true
	next.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		next.RefreshToken = tokens.RefreshToken
	}
	next.ExpiresAt = m.now().UnixMilli() + expiresIn*1000
	next.XSRFToken = xsrf

	err = m.store.Update(ctx, &next)
	if errors.Is(err, ErrConflict) {
		latest, gerr := m.store.Get(ctx, loaded.ID)
		if gerr != nil {
			return refreshResult{}, gerr
		}
		return refreshResult{sess: latest}, nil
	}
	if err != nil {
		return refreshResult{}, err
	}
	return refreshResult{sess: &next, refreshed: true}, nil
}

// ValidateStateChangingRequest reports whether a request may proceed.
// GET, HEAD and OPTIONS always pass; any other method needs the session's
// XSRF token, which must be set and equal to token.
func (m *Manager) ValidateStateChangingRequest(h *Handle, method, token string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	stored := ""
	if h.Found() {
		stored = h.sess.XSRFToken
	}
	if stored == "" || token == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		m.metrics.IncXSRFRejection()
		m.logger.Debug("XSRF tokens do not match", "method", method)
		return false
	}
	return true
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that removes the session cookie.
func (m *Manager) ClearCookie() *http.Cookie {
	return m.cookie("", -1)
}
