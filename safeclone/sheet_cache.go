package safeclone

import (
	"sync"
	"time"
)

type sheetEntry struct {
	body    []byte
	created time.Time
}

// maxSheetEntries bounds a SheetCache. Storing past it evicts the oldest
// entry.
const maxSheetEntries = 256

// SheetCache keeps downloaded stylesheet bodies by absolute URL so documents
// parsed by the same process do not fetch shared sheets again. It is safe
// for concurrent use.
type SheetCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]sheetEntry
}

// NewSheetCache returns a cache whose entries expire after ttl. A zero ttl
// keeps entries until the process exits.
func NewSheetCache(ttl time.Duration, now func() time.Time) *SheetCache {
	if now == nil {
		now = time.Now
	}
	return &SheetCache{
		ttl:  ttl,
		now:  now,
		data: make(map[string]sheetEntry),
	}
}

// Get returns a copy of the cached body of url.
func (c *SheetCache) Get(url string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.data[url]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.created) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.data[url]; ok && cur.created.Equal(entry.created) {
			delete(c.data, url)
		}
		c.mu.Unlock()
		return nil, false
	}
	return append([]byte(nil), entry.body...), true
}

// Store records body for url. It drops expired entries first and then the
// oldest ones while the cache is full.
func (c *SheetCache) Store(url string, body []byte) {
	if c == nil {
		return
	}
	now := c.now()
	entry := sheetEntry{
		body:    append([]byte(nil), body...),
		created: now,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, url)
	c.sweep(now)
	for len(c.data) >= maxSheetEntries {
		c.evictOldest()
	}
	c.data[url] = entry
}

func (c *SheetCache) sweep(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for url, e := range c.data {
		if now.Sub(e.created) > c.ttl {
			delete(c.data, url)
		}
	}
}

func (c *SheetCache) evictOldest() {
	var (
		oldest string
		when   time.Time
		found  bool
	)
	for url, e := range c.data {
		if !found || e.created.Before(when) || (e.created.Equal(when) && url < oldest) {
			oldest, when, found = url, e.created, true
		}
	}
	if found {
		delete(c.data, oldest)
	}
}

// Len is the number of entries, expired ones not yet swept included.
func (c *SheetCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
