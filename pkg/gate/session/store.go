package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ideamans/bsnlink/pkg/shared/kvs"
)

// Store persists sessions in a kvs.Store. Every write (re)sets the TTL;
// expired records disappear from the backend on their own.
type Store struct {
	kvs kvs.Store
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a session store with the given record TTL.
func NewStore(store kvs.Store, ttl time.Duration) *Store {
	return &Store{kvs: store, ttl: ttl, now: time.Now}
}

// TTL returns the record lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) load(ctx context.Context, id string) (*Session, []byte, error) {
	raw, err := s.kvs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, kvs.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("session: failed to get from KVS: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	sess.ID = id
	return &sess, raw, nil
}

// Get returns the live session stored under id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, _, err := s.load(ctx, id)
	return sess, err
}

// Create inserts sess under sess.ID. It never overwrites an existing record:
// an id that is already taken yields ErrConflict.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	rec := *sess
	rec.Version = 1
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().UnixMilli()
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	if err := s.kvs.CompareAndSwap(ctx, sess.ID, nil, data, s.ttl); err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("session: failed to create in KVS: %w", err)
	}

	*sess = rec
	return nil
}

// Update writes sess when the stored record still has sess.Version, and
// bumps the version. A record written by someone else in between yields
// ErrConflict; a vanished record yields ErrSessionNotFound.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	current, raw, err := s.load(ctx, sess.ID)
	if err != nil {
		return err
	}
	if current.Version != sess.Version {
		return ErrConflict
	}

	rec := *sess
	rec.Version++
	rec.CreatedAt = current.CreatedAt

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	if err := s.kvs.CompareAndSwap(ctx, sess.ID, raw, data, s.ttl); err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("session: failed to update in KVS: %w", err)
	}

	*sess = rec
	return nil
}

// Delete removes the record under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kvs.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: failed to delete from KVS: %w", err)
	}
	return nil
}

// Count returns the number of live sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.kvs.Count(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("session: failed to count: %w", err)
	}
	return n, nil
}

// Ping checks that the backing store answers.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.kvs.Exists(ctx, "__ping__"); err != nil {
		return fmt.Errorf("session: store unavailable: %w", err)
	}
	return nil
}
