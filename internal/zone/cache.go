package zone

import (
	"sync"
	"time"
)

// DefaultKey is the cache key used when a request names no session.
const DefaultKey = "default"

type cacheEntry struct {
	poly    Polygon
	expires time.Time
}

// Cache hands a polygon extracted by a zone-definition upload to a later
// media upload that omits its own zone. Entries are keyed by session, expire
// after a TTL, and are removed by Take.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache returns a cache whose entries live for ttl. A non-positive ttl
// disables expiry.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Put stores poly under key, replacing any previous entry.
func (c *Cache) Put(key string, poly Polygon) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeLocked(now)

	var expires time.Time
	if c.ttl > 0 {
		expires = now.Add(c.ttl)
	}
	c.entries[normalizeKey(key)] = cacheEntry{poly: poly.Clone(), expires: expires}
}

// Take returns and removes the polygon stored under key.
func (c *Cache) Take(key string) (Polygon, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key = normalizeKey(key)
	e, ok := c.liveLocked(key)
	if ok {
		delete(c.entries, key)
	}
	return e.poly, ok
}

// Peek returns the polygon stored under key without consuming it.
func (c *Cache) Peek(key string) (Polygon, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(normalizeKey(key))
	return e.poly.Clone(), ok
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.now())
	return len(c.entries)
}

func (c *Cache) liveLocked(key string) (cacheEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *Cache) purgeLocked(now time.Time) {
	for k, e := range c.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

func normalizeKey(key string) string {
	if key == "" {
		return DefaultKey
	}
	return key
}
