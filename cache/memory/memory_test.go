package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adeilh/rakh-connauth/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStoreSetGetDelete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get() = %q, want %q", got, "v")
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStoreTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewStore(WithNow(clock.Now))
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	clock.Advance(999 * time.Millisecond)
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}
	clock.Advance(time.Millisecond)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry not evicted, Len() = %d", store.Len())
	}
}

func TestStoreTakeIsAtMostOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.Set(ctx, "once", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	const workers = 32
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Take(ctx, "once"); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("Take() succeeded %d times, want 1", wins)
	}
}

func TestStoreKeysFiltersPrefixAndExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewStore(WithNow(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = store.Set(ctx, fmt.Sprintf("t:%d", i), []byte("x"), time.Minute)
	}
	_ = store.Set(ctx, "t:short", []byte("x"), time.Second)
	_ = store.Set(ctx, "other:1", []byte("x"), 0)

	clock.Advance(2 * time.Second)

	keys, err := store.Keys(ctx, "t:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"t:0", "t:1", "t:2"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
	}
}

func TestStoreContextCancellation(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "any", []byte("v"), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
