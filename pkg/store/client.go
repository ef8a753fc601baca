package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

const DefaultTTL = 5 * time.Minute

// Observer is told about every lookup.
type Observer interface {
	CacheLookup(hit bool)
}

// ClientCache is the process-wide JSON cache shared by the request
// controllers. It never returns errors: backend failures are logged and
// read as misses. Entries are replaced whole, last writer wins.
type ClientCache struct {
	backend  Cache
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

type entry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
}

type ClientOption func(*ClientCache)

func WithTTL(ttl time.Duration) ClientOption {
	return func(c *ClientCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *ClientCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *ClientCache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o Observer) ClientOption {
	return func(c *ClientCache) { c.observer = o }
}

func NewClientCache(backend Cache, opts ...ClientOption) *ClientCache {
	if backend == nil {
		backend = NewMemoryCache()
	}
	c := &ClientCache{backend: backend, ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClientCache) TTL() time.Duration { return c.ttl }

// Get decodes a fresh entry into dst and reports whether it did. An expired
// entry is removed and reported absent.
func (c *ClientCache) Get(ctx context.Context, key string, dst any) bool {
	hit := c.get(ctx, key, dst)
	if c.observer != nil {
		c.observer.CacheLookup(hit)
	}
	return hit
}

func (c *ClientCache) get(ctx context.Context, key string, dst any) bool {
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.drop(ctx, key)
		return false
	}
	if !c.now().Before(e.StoredAt.Add(c.ttl)) {
		c.drop(ctx, key)
		return false
	}
	if dst != nil {
		if err := json.Unmarshal(e.Value, dst); err != nil {
			c.drop(ctx, key)
			return false
		}
	}
	return true
}

// Set overwrites key with value.
func (c *ClientCache) Set(ctx context.Context, key string, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	raw, _ := json.Marshal(entry{Value: b, StoredAt: c.now()})
	if err := c.backend.Set(ctx, key, string(raw), c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *ClientCache) Invalidate(ctx context.Context, key string) {
	c.drop(ctx, key)
}

// InvalidateMatching removes every key m selects and returns how many.
func (c *ClientCache) InvalidateMatching(ctx context.Context, m Matcher) int {
	if m == nil {
		return 0
	}
	keys, err := c.backend.Keys(ctx)
	if err != nil {
		c.logger.Warn("cache scan failed", "error", err)
		return 0
	}
	var doomed []string
	for _, k := range keys {
		if m.Match(k) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) == 0 {
		return 0
	}
	if err := c.backend.Del(ctx, doomed...); err != nil {
		c.logger.Warn("cache invalidate failed", "count", len(doomed), "error", err)
		return 0
	}
	return len(doomed)
}

// Clear wipes every entry. The server stays authoritative, so this is
// always safe.
func (c *ClientCache) Clear(ctx context.Context) int {
	return c.InvalidateMatching(ctx, MatchFunc(func(string) bool { return true }))
}

func (c *ClientCache) drop(ctx context.Context, key string) {
	if err := c.backend.Del(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}
