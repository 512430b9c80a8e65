// Package authcache holds short-lived positive authentication results so a
// burst of requests from the same supplicant does not hammer the identity
// sources. Only the digest of the base secret is retained, salted per
// process so dumps of one cache are useless against another.
package authcache

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"
)

type entry struct {
	digest     [sha256.Size]byte
	attributes map[string]string
	storedAt   time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Cache maps identities to recently verified credentials. All methods are
// safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	salt    [16]byte
	ttl     time.Duration
	maxSize int
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// New returns a cache holding at most maxSize entries, each valid for ttl
// after insertion. maxSize of zero disables caching: Set stores nothing and
// every Get misses.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	if _, err := rand.Read(c.salt[:]); err != nil {
		panic("authcache: crypto/rand failed: " + err.Error())
	}
	return c
}

func (c *Cache) digest(secret string) [sha256.Size]byte {
	h := sha256.New()
	h.Write(c.salt[:])
	h.Write([]byte(secret))
	var d [sha256.Size]byte
	copy(d[:], h.Sum(nil))
	return d
}

// Get reports whether identity authenticated with secret inside the TTL
// window. A stored entry whose digest does not match the presented secret is
// evicted immediately: the user either changed their password or someone is
// guessing, and neither should keep a stale accept alive.
func (c *Cache) Get(identity, secret string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[identity]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, identity)
		c.misses++
		return nil, false
	}
	want := c.digest(secret)
	if subtle.ConstantTimeCompare(want[:], e.digest[:]) != 1 {
		delete(c.entries, identity)
		c.misses++
		return nil, false
	}
	c.hits++
	return cloneAttributes(e.attributes), true
}

// Set records a verified identity/secret pair with its reply attributes.
// When the cache is full the oldest entry makes room.
func (c *Cache) Set(identity, secret string, attributes map[string]string) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[identity]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[identity] = entry{
		digest:     c.digest(secret),
		attributes: cloneAttributes(attributes),
		storedAt:   c.now(),
	}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Invalidate drops any cached result for identity.
func (c *Cache) Invalidate(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, identity)
}

// Clear drops every entry and resets the counters. Called when the backend
// chain is rebuilt, since results proven against the old chain say nothing
// about the new one.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.hits = 0
	c.misses = 0
}

// Stats returns current counters and live entry count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

func cloneAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
