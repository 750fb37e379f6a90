package secrets

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	value   string
	expires time.Time
}

// Cache serves secrets from memory until they expire. Concurrent misses for
// the same name share one provider call. Failures are not cached.
type Cache struct {
	src Getter
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// NewCache wraps src. A non-positive ttl means DefaultTTL.
func NewCache(src Getter, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{src: src, ttl: ttl, now: time.Now, entries: map[string]entry{}}
}

func (c *Cache) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.value, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[name]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expires) {
			return e.value, nil
		}

		val, err := c.src.GetSecret(ctx, name)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[name] = entry{value: val, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops name from the cache so the next read goes to the provider.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}
