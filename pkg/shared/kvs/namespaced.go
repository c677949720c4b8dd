package kvs

import (
	"context"
	"time"
)

// NamespacedStore prefixes every key before delegating to a shared backend,
// so several logical stores can live in one physical store.
//
//	base, _ := kvs.New(kvs.Config{Type: "redis", ...})
//	sessions := kvs.NewNamespacedStore(base, "session:")
//	locks := kvs.NewNamespacedStore(base, "lock:")
type NamespacedStore struct {
	store  Store
	prefix string
}

// NewNamespacedStore wraps store. An empty prefix returns store itself.
func NewNamespacedStore(store Store, prefix string) Store {
	if prefix == "" {
		return store
	}
	return &NamespacedStore{store: store, prefix: prefix}
}

func (n *NamespacedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return n.store.Get(ctx, n.prefix+key)
}

func (n *NamespacedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.store.Set(ctx, n.prefix+key, value, ttl)
}

func (n *NamespacedStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error {
	return n.store.CompareAndSwap(ctx, n.prefix+key, old, value, ttl)
}

func (n *NamespacedStore) Delete(ctx context.Context, key string) error {
	return n.store.Delete(ctx, n.prefix+key)
}

func (n *NamespacedStore) Exists(ctx context.Context, key string) (bool, error) {
	return n.store.Exists(ctx, n.prefix+key)
}

func (n *NamespacedStore) Count(ctx context.Context, prefix string) (int, error) {
	return n.store.Count(ctx, n.prefix+prefix)
}

// Close closes the shared backend. When several wrappers share one backend,
// close the backend once instead of closing each wrapper.
func (n *NamespacedStore) Close() error {
	return n.store.Close()
}
