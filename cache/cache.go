package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store represents a TTL-based key/value abstraction that can be backed
// by memory, Redis, PostgreSQL, or any other KV store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take atomically reads and removes key. Concurrent callers racing on the
	// same key observe the value at most once.
	Take(ctx context.Context, key string) ([]byte, error)
	// Keys lists the live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// BatchDeleter is implemented by stores that can remove many keys in one
// round-trip. It reports how many of the keys existed.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, keys ...string) (int, error)
}
