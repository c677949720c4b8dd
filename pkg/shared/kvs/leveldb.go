package kvs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore persists entries on local disk. Each record is prefixed with an
// 8-byte big-endian expiry (unix nanoseconds, 0 = none).
//
// Writes are serialized through writeMu so CompareAndSwap can read and write
// without interleaving. This makes the backend correct for a single process
// only; use Redis when several instances share sessions.
type LevelDBStore struct {
	prefix string
	db     *leveldb.DB
	sync   bool

	mu      sync.RWMutex // guards closed
	closed  bool
	writeMu sync.Mutex

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewLevelDBStore opens (or recovers) the database and starts its expiry sweeper.
func NewLevelDBStore(prefix string, cfg LevelDBConfig) (*LevelDBStore, error) {
	path := cfg.Path
	if path == "" {
		path = defaultLevelDBPath(prefix)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kvs/leveldb: failed to create directory: %w", err)
	}

	opts := &opt.Options{
		Compression: opt.SnappyCompression,
		NoSync:      !cfg.SyncWrites,
	}

	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		var corrupted *lerrors.ErrCorrupted
		if errors.As(err, &corrupted) {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("kvs/leveldb: failed to open database at %s: %w", path, err)
		}
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	l := &LevelDBStore{
		prefix:   prefix,
		db:       db,
		sync:     cfg.SyncWrites,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.sweep()

	return l, nil
}

func defaultLevelDBPath(prefix string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}

	name := "bsnlink"
	if prefix != "" {
		name += "-" + strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			}
			return '-'
		}, prefix)
	}
	return filepath.Join(base, name)
}

func (l *LevelDBStore) key(k string) []byte {
	return []byte(l.prefix + k)
}

func (l *LevelDBStore) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func (l *LevelDBStore) writeOptions() *opt.WriteOptions {
	return &opt.WriteOptions{Sync: l.sync}
}

func encodeRecord(value []byte, ttl time.Duration) []byte {
	var deadline int64
	if ttl > 0 {
		deadline = time.Now().Add(ttl).UnixNano()
	}
	rec := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(rec[:8], uint64(deadline))
	copy(rec[8:], value)
	return rec
}

// decodeRecord splits a record into its value and whether it is still live.
func decodeRecord(rec []byte) ([]byte, bool, error) {
	if len(rec) < 8 {
		return nil, false, errors.New("kvs/leveldb: malformed record")
	}
	deadline := int64(binary.BigEndian.Uint64(rec[:8]))
	if deadline > 0 && time.Now().UnixNano() > deadline {
		return nil, false, nil
	}
	return rec[8:], true, nil
}

// read returns the live value for k and whether one exists.
func (l *LevelDBStore) read(k string) ([]byte, bool, error) {
	rec, err := l.db.Get(l.key(k), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvs/leveldb: get failed: %w", err)
	}
	return decodeRecord(rec)
}

// Get returns the value stored under key.
func (l *LevelDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	if l.isClosed() {
		return nil, ErrClosed
	}
	value, live, err := l.read(key)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set stores value under key.
func (l *LevelDBStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if l.isClosed() {
		return ErrClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.db.Put(l.key(key), encodeRecord(value, ttl), l.writeOptions()); err != nil {
		return fmt.Errorf("kvs/leveldb: set failed: %w", err)
	}
	return nil
}

// CompareAndSwap writes value when the stored value still equals old.
func (l *LevelDBStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error {
	if l.isClosed() {
		return ErrClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	current, live, err := l.read(key)
	if err != nil {
		return err
	}
	if !swappable(old, current, live) {
		return ErrConflict
	}

	if err := l.db.Put(l.key(key), encodeRecord(value, ttl), l.writeOptions()); err != nil {
		return fmt.Errorf("kvs/leveldb: compare-and-swap failed: %w", err)
	}
	return nil
}

// Delete removes key.
func (l *LevelDBStore) Delete(ctx context.Context, key string) error {
	if l.isClosed() {
		return ErrClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.db.Delete(l.key(key), l.writeOptions()); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("kvs/leveldb: delete failed: %w", err)
	}
	return nil
}

// Exists reports whether key holds a live value.
func (l *LevelDBStore) Exists(ctx context.Context, key string) (bool, error) {
	if l.isClosed() {
		return false, ErrClosed
	}
	_, live, err := l.read(key)
	return live, err
}

// Count returns the number of live keys starting with prefix.
func (l *LevelDBStore) Count(ctx context.Context, prefix string) (int, error) {
	if l.isClosed() {
		return 0, ErrClosed
	}

	iter := l.db.NewIterator(util.BytesPrefix(l.key(prefix)), nil)
	defer iter.Release()

	n := 0
	for iter.Next() {
		if _, live, err := decodeRecord(iter.Value()); err == nil && live {
			n++
		}
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("kvs/leveldb: count failed: %w", err)
	}
	return n, nil
}

// Close stops the sweeper and closes the database.
func (l *LevelDBStore) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := l.db.Close(); err != nil {
		return fmt.Errorf("kvs/leveldb: close failed: %w", err)
	}
	return nil
}

func (l *LevelDBStore) sweep() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.purgeExpired()
		case <-l.stop:
			return
		}
	}
}

// purgeExpired deletes expired records in one batch. Errors are ignored; the
// next sweep retries.
func (l *LevelDBStore) purgeExpired() {
	if l.isClosed() {
		return
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(l.prefix)), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		if _, live, err := decodeRecord(iter.Value()); err == nil && !live {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()

	if batch.Len() > 0 {
		_ = l.db.Write(batch, nil)
	}
}
