package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jaki95/tunecache/internal/domain"
)

const maxCachedEntries = 4096

type cacheEntry struct {
	meta    domain.Metadata
	expires time.Time
}

// Cached remembers successful lookups for a TTL and collapses concurrent
// lookups of the same id into one. Failures are not cached.
type Cached struct {
	next  Catalog
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCached(next Catalog, ttl time.Duration) *Cached {
	return &Cached{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) Metadata(ctx context.Context, id string) (domain.Metadata, error) {
	if meta, ok := c.lookup(id); ok {
		return meta, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		meta, err := c.next.Metadata(ctx, id)
		if err != nil {
			return domain.Metadata{}, err
		}
		c.store(id, meta)
		return meta, nil
	})
	if err != nil {
		return domain.Metadata{}, err
	}
	return v.(domain.Metadata), nil
}

func (c *Cached) lookup(id string) (domain.Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || c.now().After(e.expires) {
		return domain.Metadata{}, false
	}
	return e.meta, true
}

func (c *Cached) store(id string, meta domain.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= maxCachedEntries {
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= maxCachedEntries {
		return
	}
	c.entries[id] = cacheEntry{meta: meta, expires: now.Add(c.ttl)}
}
