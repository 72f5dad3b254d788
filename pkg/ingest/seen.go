package ingest

import lru "github.com/hashicorp/golang-lru/v2"

// seenCache remembers the fingerprints already handled in this run so that
// elements staying on screen across cycles skip the store lookup. It is
// bounded (least recently added entries are evicted first) and never
// authoritative: the store's primary key decides uniqueness. A nil *seenCache
// is a disabled cache.
type seenCache struct {
	ids *lru.Cache[string, struct{}]
}

func newSeenCache(size int) *seenCache {
	if size <= 0 {
		return nil
	}
	ids, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil
	}
	return &seenCache{ids: ids}
}

// Add records id and reports whether it was not already present.
func (c *seenCache) Add(id string) bool {
	if c == nil {
		return true
	}
	ok, _ := c.ids.ContainsOrAdd(id, struct{}{})
	return !ok
}

// Remove forgets id so the next cycle looks it up again.
func (c *seenCache) Remove(id string) {
	if c == nil {
		return
	}
	c.ids.Remove(id)
}

func (c *seenCache) Len() int {
	if c == nil {
		return 0
	}
	return c.ids.Len()
}
