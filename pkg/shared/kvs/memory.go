package kvs

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value    []byte
	deadline time.Time // zero: never expires
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// MemoryStore keeps entries in a map. Contents do not survive a restart and
// are not shared between processes, so it only suits single-instance or
// development deployments.
type MemoryStore struct {
	prefix  string
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	closed  bool

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates an in-process store and starts its expiry sweeper.
func NewMemoryStore(prefix string, cfg MemoryConfig) (*MemoryStore, error) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	m := &MemoryStore{
		prefix:   prefix,
		entries:  make(map[string]*memoryEntry),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.sweep()

	return m, nil
}

func (m *MemoryStore) key(k string) string {
	return m.prefix + k
}

// lookup returns the live entry for k. Callers hold m.mu.
func (m *MemoryStore) lookup(k string) (*memoryEntry, bool) {
	e, ok := m.entries[m.key(k)]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) put(k string, value []byte, ttl time.Duration) {
	e := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	m.entries[m.key(k)] = e
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value under key.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.put(key, value, ttl)
	return nil
}

// CompareAndSwap writes value when the stored value still equals old.
func (m *MemoryStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	var current []byte
	e, found := m.lookup(key)
	if found {
		current = e.value
	}
	if !swappable(old, current, found) {
		return ErrConflict
	}

	m.put(key, value, ttl)
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.entries, m.key(key))
	return nil
}

// Exists reports whether key holds a live value.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.lookup(key)
	return ok, nil
}

// Count returns the number of live keys starting with prefix.
func (m *MemoryStore) Count(ctx context.Context, prefix string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	full := m.key(prefix)
	now := time.Now()
	n := 0
	for k, e := range m.entries {
		if strings.HasPrefix(k, full) && !e.expired(now) {
			n++
		}
	}
	return n, nil
}

// Close stops the sweeper and drops all entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) sweep() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purgeExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) purgeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	now := time.Now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}
