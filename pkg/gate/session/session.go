// Package session implements the server-side sessions of the gate: the
// record stored per browser, the store adapter over kvs, and the lifecycle
// manager used by the request handlers (initialize, create, update,
// refresh, XSRF validation).
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound is returned when no live record exists for an id.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrConflict is returned when a record changed since it was loaded.
	ErrConflict = errors.New("session: modified concurrently")
)

// Session is the record stored for one browser session.
//
// A logged-in session always carries access and refresh tokens, an expiry
// and an XSRF token. State is only meaningful between /login and /auth.
type Session struct {
	ID string `json:"-"`

	LoggedIn  bool   `json:"loggedin"`
	State     string `json:"state,omitempty"`
	ContactID string `json:"contact_id,omitempty"`

	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the access token expiry in epoch milliseconds.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	XSRFToken string `json:"xsrf_token,omitempty"`

	// Version increases on every write; updates are conditional on it.
	Version uint64 `json:"version"`

	// CreatedAt is the session start in epoch milliseconds.
	CreatedAt int64 `json:"created_at"`
}

// Expired reports whether the access token expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// newID returns 256 random bits, base64url encoded without padding.
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// validID reports whether id can be a session id issued by newID. Anything
// else is treated as an absent cookie without touching the store.
func validID(id string) bool {
	if len(id) != 43 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
