package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
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

func TestMemoryCacheGetSetAndDel(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", "v1", time.Minute); err != nil {
		t.Fatalf("set error: %v", err)
	}
	got, err := c.Get(ctx, "k1")
	if err != nil || got != "v1" {
		t.Fatalf("expected v1, got %q err=%v", got, err)
	}
	if err := c.Del(ctx, "k1", "missing"); err != nil {
		t.Fatalf("del error: %v", err)
	}
	if _, err := c.Get(ctx, "k1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after del, got %v", err)
	}
}

func TestMemoryCacheExpiryIsLazy(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCacheWithClock(clock.Now)
	ctx := context.Background()

	_ = c.Set(ctx, "k2", "v2", 10*time.Second)
	_ = c.Set(ctx, "forever", "x", 0)
	clock.Advance(10 * time.Second)
	if c.Len() != 2 {
		t.Fatalf("expected expired entry kept until touched, got len=%d", c.Len())
	}
	if _, err := c.Get(ctx, "k2"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after ttl, got %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected expired entry removed on get, got len=%d", c.Len())
	}
	keys, _ := c.Keys(ctx)
	if len(keys) != 1 || keys[0] != "forever" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestNewCacheFallsBackToMemory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	cache := NewCache(ctx, nil)
	if _, ok := cache.(*MemoryCache); !ok {
		t.Fatalf("expected MemoryCache fallback for nil redis client, got %T", cache)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  5 * time.Millisecond,
		ReadTimeout:  5 * time.Millisecond,
		WriteTimeout: 5 * time.Millisecond,
	})
	defer redisClient.Close()

	cache = NewCache(ctx, redisClient)
	if _, ok := cache.(*MemoryCache); !ok {
		t.Fatalf("expected MemoryCache fallback on redis ping failure, got %T", cache)
	}
}

func TestNewCacheUsesRedisWhenAvailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	cache := NewCache(context.Background(), redisClient)
	if _, ok := cache.(*RedisCache); !ok {
		t.Fatalf("expected RedisCache when redis ping succeeds, got %T", cache)
	}
}

func TestRedisCacheMethods(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRedisCache(client, "")
	ctx := context.Background()

	if err := cache.Set(ctx, "event-requests:v2:{}", "v1", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := cache.Set(ctx, "event-request:v2:r1", "v2", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := client.Set(ctx, "other:key", "x", 0).Err(); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}
	if !mr.Exists(DefaultRedisPrefix + "event-request:v2:r1") {
		t.Fatal("expected prefixed key in redis")
	}

	got, err := cache.Get(ctx, "event-request:v2:r1")
	if err != nil || got != "v2" {
		t.Fatalf("expected v2, got %q err=%v", got, err)
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "event-request:v2:r1" || keys[1] != "event-requests:v2:{}" {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := cache.Del(ctx, "event-request:v2:r1"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if err := cache.Del(ctx); err != nil {
		t.Fatalf("empty del failed: %v", err)
	}
	if _, err := cache.Get(ctx, "event-request:v2:r1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := cache.Get(ctx, "event-requests:v2:{}"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected redis ttl expiry, got %v", err)
	}
}
