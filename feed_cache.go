package feedcache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
)

// CacheEntry is one cached feed page. It is never mutated after being stored.
type CacheEntry struct {
	Query     Query
	Posts     []Post
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FeedCache is a keyed in-memory store of feed pages with a fixed TTL and
// location-scoped invalidation. One instance is meant to be shared by every
// feed in the process.
type FeedCache struct {
	items    *gocache.Cache
	ttl      time.Duration
	clock    clockwork.Clock
	stats    *StatsRecorder
	observer Observer
	mu       sync.Mutex
}

// NewFeedCache creates an empty cache.
//
// Example: read-through by hand
//
//	c := feedcache.NewFeedCache(feedcache.WithTTL(time.Minute))
//	q := feedcache.Query{Location: feedcache.LocationKey{Neighborhood: "Ikoyi"}, Scope: feedcache.ScopeNeighborhood, Type: feedcache.PostTypeAll}
//	if _, ok := c.Get(q); !ok {
//		c.Set(q, posts)
//	}
//	fmt.Println(c.Stats().Size) // 1
func NewFeedCache(opts ...Option) *FeedCache {
	o := buildOptions(opts)
	return &FeedCache{
		items:    gocache.New(o.Config.TTL, o.Config.CleanupInterval),
		ttl:      o.Config.TTL,
		clock:    o.Clock,
		stats:    NewStatsRecorder(o.Clock),
		observer: o.Observer,
	}
}

// TTL returns the configured freshness window.
func (c *FeedCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached posts for q. An expired entry is removed and reported
// as a miss. The returned slice is a copy.
func (c *FeedCache) Get(q Query) ([]Post, bool) {
	start := time.Now()
	key := q.Key()

	c.mu.Lock()
	entry, ok := c.lookup(key)
	if ok && !c.clock.Now().Before(entry.ExpiresAt) {
		c.items.Delete(key)
		ok = false
		c.stats.SetSize(c.liveCountLocked())
	}
	c.mu.Unlock()

	if ok {
		c.stats.RecordHit()
	} else {
		c.stats.RecordMiss()
	}
	c.observe("get", key, ok, start)
	if !ok {
		return nil, false
	}
	return clonePosts(entry.Posts), true
}

// Entry returns the stored entry for q without recording a hit or miss.
func (c *FeedCache) Entry(q Query) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(q.Key())
	if !ok || !c.clock.Now().Before(entry.ExpiresAt) {
		return CacheEntry{}, false
	}
	entry.Posts = clonePosts(entry.Posts)
	return entry, true
}

// Set stores posts for q, replacing any previous entry.
func (c *FeedCache) Set(q Query, posts []Post) {
	start := time.Now()
	key := q.Key()
	now := c.clock.Now()
	entry := CacheEntry{
		Query:     q,
		Posts:     clonePosts(posts),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.items.Set(key, entry, c.ttl)
	c.stats.SetSize(c.liveCountLocked())
	c.mu.Unlock()

	c.observe("set", key, false, start)
}

// Invalidate removes every entry for loc regardless of scope, post type or the
// letter case the location was spelled with, and returns how many were removed.
func (c *FeedCache) Invalidate(loc LocationKey) int {
	start := time.Now()

	c.mu.Lock()
	removed := 0
	for key, item := range c.items.Items() {
		entry, ok := item.Object.(CacheEntry)
		if !ok || !entry.Query.Location.Same(loc) {
			continue
		}
		c.items.Delete(key)
		removed++
	}
	c.stats.SetSize(c.liveCountLocked())
	c.mu.Unlock()

	c.observe("invalidate", loc.String(), removed > 0, start)
	return removed
}

// Flush removes every entry.
func (c *FeedCache) Flush() {
	start := time.Now()
	c.mu.Lock()
	c.items.Flush()
	c.stats.SetSize(0)
	c.mu.Unlock()
	c.observe("flush", "", false, start)
}

// Stats returns hit/miss counters and the number of unexpired entries.
// Entries the clock has expired since the last write are swept first.
func (c *FeedCache) Stats() CacheStats {
	c.mu.Lock()
	if c.sweepLocked() > 0 {
		c.stats.SetSize(c.liveCountLocked())
	}
	c.mu.Unlock()
	return c.stats.Snapshot()
}

// sweepLocked deletes entries expired by the cache clock.
func (c *FeedCache) sweepLocked() int {
	now := c.clock.Now()
	removed := 0
	for key, item := range c.items.Items() {
		entry, ok := item.Object.(CacheEntry)
		if ok && now.Before(entry.ExpiresAt) {
			continue
		}
		c.items.Delete(key)
		removed++
	}
	return removed
}

func (c *FeedCache) lookup(key string) (CacheEntry, bool) {
	item, ok := c.items.Get(key)
	if !ok {
		return CacheEntry{}, false
	}
	entry, ok := item.(CacheEntry)
	return entry, ok
}

func (c *FeedCache) liveCountLocked() int {
	now := c.clock.Now()
	count := 0
	for _, item := range c.items.Items() {
		entry, ok := item.Object.(CacheEntry)
		if ok && now.Before(entry.ExpiresAt) {
			count++
		}
	}
	return count
}

func (c *FeedCache) observe(op, key string, hit bool, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.OnCacheOp(context.Background(), op, key, hit, time.Since(start))
}
