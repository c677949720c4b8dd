package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// maxUpdateAttempts bounds how often Update re-applies a mutation after
// losing a race with another writer.
const maxUpdateAttempts = 3

// maxCreateAttempts bounds id regeneration on (astronomically unlikely) collisions.
const maxCreateAttempts = 3

// Handle is the session of one request. It starts as the record found
// by Initialize (or none) and follows every write made through it.
type Handle struct {
	m    *Manager
	sess *Session
}

// Found reports whether the handle holds a stored session.
func (h *Handle) Found() bool {
	return h != nil && h.sess != nil
}

// ID returns the session id, or "".
func (h *Handle) ID() string {
	if !h.Found() {
		return ""
	}
	return h.sess.ID
}

// IsLoggedIn reports whether the session completed the OIDC login.
func (h *Handle) IsLoggedIn() bool {
	return h.Found() && h.sess.LoggedIn
}

// Session returns a copy of the current record (zero value when not found).
func (h *Handle) Session() Session {
	if !h.Found() {
		return Session{}
	}
	return *h.sess
}

// Create starts a new session with the given fields under a fresh id.
// A session previously held by the handle is removed from the store.
func (h *Handle) Create(ctx context.Context, fields Session) error {
	previous := h.ID()

	for attempt := 0; ; attempt++ {
		id, err := newID()
		if err != nil {
			return err
		}

		sess := fields
		sess.ID = id
		sess.CreatedAt = 0
		err = h.m.store.Create(ctx, &sess)
		if errors.Is(err, ErrConflict) && attempt+1 < maxCreateAttempts {
			continue
		}
		if err != nil {
			return err
		}

		h.sess = &sess
		break
	}

	if previous != "" {
		if err := h.m.store.Delete(ctx, previous); err != nil {
			h.m.logger.Warn("Failed to remove superseded session", "session", logging.Mask(previous), "error", err)
		}
	}
	return nil
}

// Update applies mutate to the session and stores it under the same id,
// renewing the TTL. When another request wrote the session in between,
// the latest record is loaded and mutate is applied again.
func (h *Handle) Update(ctx context.Context, mutate func(*Session)) error {
	if !h.Found() {
		return ErrSessionNotFound
	}

	for attempt := 0; ; attempt++ {
		next := *h.sess
		mutate(&next)
		next.ID = h.sess.ID
		next.Version = h.sess.Version

		err := h.m.store.Update(ctx, &next)
		if err == nil {
			h.sess = &next
			return nil
		}
		if !errors.Is(err, ErrConflict) || attempt+1 >= maxUpdateAttempts {
			return err
		}

		if err := h.Reload(ctx); err != nil {
			return err
		}
	}
}

// Reload replaces the handle's record with the stored one.
func (h *Handle) Reload(ctx context.Context) error {
	if !h.Found() {
		return ErrSessionNotFound
	}
	sess, err := h.m.store.Get(ctx, h.sess.ID)
	if err != nil {
		return err
	}
	h.sess = sess
	return nil
}

// Cookie returns the session cookie to send with the response, or nil when
// the handle holds no session. It is sent on every response so Max-Age
// follows the renewed TTL.
func (h *Handle) Cookie() *http.Cookie {
	if !h.Found() {
		return nil
	}
	return h.m.cookie(h.sess.ID, int(h.m.store.TTL().Seconds()))
}
