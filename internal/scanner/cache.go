package scanner

import (
	"sync"
	"time"
)

// PendingCache holds the pending-ID queue from the last scan so batch calls
// do not rescan the library every time. Entries expire after the TTL, a
// stale queue forces a fresh scan.
type PendingCache struct {
	mu        sync.Mutex
	ids       []string
	scannedAt time.Time
	ttl       time.Duration
}

// NewPendingCache creates a cache whose entries stay fresh for ttl.
func NewPendingCache(ttl time.Duration) *PendingCache {
	return &PendingCache{ttl: ttl}
}

// Set stores a freshly scanned pending queue.
func (c *PendingCache) Set(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append([]string(nil), ids...)
	c.scannedAt = time.Now()
}

// Get returns the cached queue, or nil and false when the cache is empty
// or expired.
func (c *PendingCache) Get() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scannedAt.IsZero() || time.Since(c.scannedAt) > c.ttl {
		return nil, false
	}
	return append([]string(nil), c.ids...), true
}

// Invalidate drops the cached queue.
func (c *PendingCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = nil
	c.scannedAt = time.Time{}
}
