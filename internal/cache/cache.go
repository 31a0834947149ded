package cache

import (
	"sync"

	"github.com/forumsync/internal/model"
)

// Record is the cached value for a thread identity: the thread handle plus
// a denormalized snapshot of what we last saw on it.
type Record struct {
	ThreadID string
	Name     string
	TagNames []string
}

// Cache maps thread identities to records for the process lifetime.
// Entries have no TTL; callers invalidate explicitly when a liveness
// check fails. A restart loses everything and the resolver falls back to
// scanning the forum by name pattern.
//
// Lock serializes resolution per identity so that two concurrent webhook
// deliveries for the same item cannot create two threads: the first
// caller resolves, the rest observe its cached result.
type Cache struct {
	mu      sync.Mutex
	entries map[model.ThreadIdentity]Record
	locks   map[model.ThreadIdentity]*sync.Mutex
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[model.ThreadIdentity]Record),
		locks:   make(map[model.ThreadIdentity]*sync.Mutex),
	}
}

// Get returns the record for a key, if present.
func (c *Cache) Get(key model.ThreadIdentity) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[key]
	return rec, ok
}

// Put stores a record, replacing any previous one for the key.
func (c *Cache) Put(key model.ThreadIdentity, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = rec
}

// Invalidate removes a key. Safe to call for absent keys.
func (c *Cache) Invalidate(key model.ThreadIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of cached identities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Lock acquires the per-key resolution lock and returns the unlock
// function. Key mutexes are created on demand and retained; item volume
// is low enough that reclamation is not worth the bookkeeping.
func (c *Cache) Lock(key model.ThreadIdentity) func() {
	c.mu.Lock()
	km, ok := c.locks[key]
	if !ok {
		km = &sync.Mutex{}
		c.locks[key] = km
	}
	c.mu.Unlock()

	km.Lock()
	return km.Unlock
}
