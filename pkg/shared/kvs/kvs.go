// Package kvs provides the key-value storage used for server-side sessions.
// Three backends share one contract: an in-process map, LevelDB on local disk
// and Redis for deployments with more than one instance.
package kvs

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// Store is a key-value store with per-key TTL and a conditional write.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value stored under key.
	// Missing and expired keys both yield ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key unconditionally.
	// A ttl of zero or less stores the key without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CompareAndSwap stores value under key only if the current value equals old.
	// A nil old requires the key to be absent (or expired). When the stored
	// value does not match, nothing is written and ErrConflict is returned.
	CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Count returns the number of live keys starting with prefix.
	Count(ctx context.Context, prefix string) (int, error)

	// Close releases the backend. Every later call returns ErrClosed.
	Close() error
}

var (
	// ErrNotFound is returned when a key is missing or expired.
	ErrNotFound = errors.New("kvs: key not found")

	// ErrConflict is returned by CompareAndSwap when the stored value changed.
	ErrConflict = errors.New("kvs: value changed concurrently")

	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("kvs: store is closed")
)

// Config selects and configures a backend.
type Config struct {
	// Type is "memory" (default), "leveldb" or "redis".
	Type string `yaml:"type" json:"type"`

	// Namespace isolates keys of one logical store inside a shared backend.
	Namespace string `yaml:"namespace" json:"namespace"`

	Memory  MemoryConfig  `yaml:"memory" json:"memory"`
	LevelDB LevelDBConfig `yaml:"leveldb" json:"leveldb"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	// CleanupInterval is how often expired keys are purged (default 5m).
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// LevelDBConfig configures the LevelDB backend.
type LevelDBConfig struct {
	// Path is the database directory. Empty means a directory under the
	// user cache dir derived from the namespace.
	Path string `yaml:"path" json:"path"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// CleanupInterval is how often expired keys are purged (default 5m).
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// PoolSize caps the connection pool (0 keeps the go-redis default).
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// New opens the backend selected by cfg.Type.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(cfg.Namespace, cfg.Memory)
	case "leveldb":
		return NewLevelDBStore(cfg.Namespace, cfg.LevelDB)
	case "redis":
		return NewRedisStore(cfg.Namespace, cfg.Redis)
	default:
		return nil, errors.New("kvs: unsupported store type: " + cfg.Type)
	}
}

// swappable reports whether a stored value (found or not) satisfies the
// expectation old of a CompareAndSwap call.
func swappable(old, current []byte, found bool) bool {
	if old == nil {
		return !found
	}
	return found && bytes.Equal(old, current)
}
