package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adeilh/rakh-connauth/cache"
)

// Store implements cache.Store inside the current process. Expired entries
// are dropped lazily on access.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value []byte
	exp   time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithNow injects a clock, mostly for tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStore builds an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{data: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = entry{value: append([]byte(nil), value...), exp: exp}
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveLocked(key); !ok {
		return cache.ErrNotFound
	}
	delete(s.data, key)
	return nil
}

func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	delete(s.data, key)
	return e.value, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.liveLocked(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) DeleteMany(ctx context.Context, keys ...string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, k := range keys {
		if _, ok := s.liveLocked(k); ok {
			delete(s.data, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, including ones not yet evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// liveLocked returns the entry for key, evicting it when expired. Must be
// called with mu held.
func (s *Store) liveLocked(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && !s.now().Before(e.exp) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, true
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
