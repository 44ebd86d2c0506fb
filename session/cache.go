package session

import (
	"github.com/dgraph-io/ristretto"
)

// cache is a bounded cache of active sessions sitting in front of the store
// adapter. Capacity is counted in sessions. Admission and eviction are
// ristretto's TinyLFU; a miss always falls back to the store, so the cache
// is strictly best-effort.
type cache struct {
	r *ristretto.Cache
}

func newCache(capacity int64) (*cache, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	r, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &cache{r: r}, nil
}

func (c *cache) get(sessionID string) (*Session, bool) {
	v, ok := c.r.Get(sessionID)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}

func (c *cache) put(s *Session) {
	c.r.Set(s.ID, s, 1)
}

func (c *cache) drop(sessionID string) {
	c.r.Del(sessionID)
}
