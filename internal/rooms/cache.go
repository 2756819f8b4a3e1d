package rooms

import (
	"sync"
	"time"
)

type cacheEntry struct {
	room     *Room
	cachedAt time.Time
}

// cache is the process-local read tier in front of the shared store. It is a
// latency optimization only: entries past the TTL are treated as misses, but
// kept so reads can degrade to stale data when the store is unreachable.
type cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *cache) get(roomID string) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[roomID]
	if !ok || c.now().Sub(e.cachedAt) > c.ttl {
		return nil, false
	}
	return e.room.Clone(), true
}

// getStale returns the entry even past its TTL. Used only when the store
// read fails and availability beats freshness.
func (c *cache) getStale(roomID string) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[roomID]
	if !ok {
		return nil, false
	}
	return e.room.Clone(), true
}

func (c *cache) set(room *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[room.ID] = cacheEntry{room: room.Clone(), cachedAt: c.now()}
}

func (c *cache) remove(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, roomID)
}

func (c *cache) roomIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// sweepStale drops entries that have been expired for a while so the map
// does not grow without bound. Stale entries inside the grace window stay
// available for degraded reads.
func (c *cache) sweepStale(grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl+grace {
			delete(c.entries, id)
		}
	}
}
