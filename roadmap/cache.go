package roadmap

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a fetched response stays fresh.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	body    []byte
	expires time.Time
}

// responseCache keeps response bodies by key for a fixed TTL and lets
// concurrent callers for the same key share a single fetch.
type responseCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

func (c *responseCache) put(key string, body []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{body: body, expires: c.now().Add(c.ttl)}
}

// invalidate drops every cached response.
func (c *responseCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// fetch returns the cached body for key, or runs fn once for all concurrent
// callers and caches its result on success. fn runs detached from the
// cancellation of whichever caller started it; a caller whose ctx ends stops
// waiting without failing the others.
func (c *responseCache) fetch(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if body, ok := c.get(key); ok {
		return body, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if body, ok := c.get(key); ok {
			return body, nil
		}
		body, err := fn(shared)
		if err != nil {
			return nil, err
		}
		c.put(key, body)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
