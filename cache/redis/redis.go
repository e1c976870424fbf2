package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adeilh/rakh-connauth/cache"
)

// Store implements cache.Store on top of go-redis. Take maps to GETDEL, so
// single-use consumption is atomic on the server (Redis >= 6.2).
type Store struct {
	rdb       goredis.UniversalClient
	scanCount int64
	owned     bool
}

// NewStore builds a Redis-backed cache store with its own client.
func NewStore(opts Options) *Store {
	cfg := opts.withDefaults()
	return &Store{
		rdb:       goredis.NewClient(cfg.clientOptions()),
		scanCount: cfg.ScanCount,
		owned:     true,
	}
}

// NewStoreFromClient wraps an existing client (single node, sentinel or
// cluster). The caller keeps ownership of the client.
func NewStoreFromClient(rdb goredis.UniversalClient, scanCount int64) *Store {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &Store{rdb: rdb, scanCount: scanCount}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	payload, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, translate("GET", err)
	}
	return payload, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if ttl > 0 && ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: SET failed: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: DEL failed: %w", err)
	}
	if n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	payload, err := s.rdb.GetDel(ctx, key).Bytes()
	if err != nil {
		return nil, translate("GETDEL", err)
	}
	return payload, nil
}

// Keys walks the keyspace with SCAN; it never blocks the server like KEYS.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var keys []string
	iter := s.rdb.Scan(ctx, 0, escapePattern(prefix)+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: SCAN failed: %w", err)
	}
	return keys, nil
}

// DeleteMany removes keys in a single pipeline round-trip and reports how
// many existed.
func (s *Store) DeleteMany(ctx context.Context, keys ...string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	cmds, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis: pipeline DEL failed: %w", err)
	}
	removed := 0
	for _, cmd := range cmds {
		if ic, ok := cmd.(*goredis.IntCmd); ok {
			removed += int(ic.Val())
		}
	}
	return removed, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client when the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func translate(op string, err error) error {
	if errors.Is(err, goredis.Nil) {
		return cache.ErrNotFound
	}
	return fmt.Errorf("redis: %s failed: %w", op, err)
}

// escapePattern quotes glob metacharacters so prefix matches literally.
func escapePattern(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
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
