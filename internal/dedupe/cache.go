// ABOUTME: Size-bounded set of recently announced keys with optional expiry
// ABOUTME: Used by transports to drop repeated participant and track announcements

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache remembers keys until they are forgotten, expire or are evicted.
// The oldest key is evicted once maxSize keys are held. Expired keys are
// dropped lazily on access, so no background goroutine is needed.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys by mark time, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. A ttl of zero keeps keys until they are forgotten
// or evicted.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether key is currently held.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	_, ok := c.seen[key]
	return ok
}

// CheckAndMark marks key and reports whether it was already held. The
// check and the mark happen under one lock.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()

	if _, ok := c.seen[key]; ok {
		return true
	}
	if len(c.seen) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.seen[key] = &cacheEntry{
		markedAt: c.now(),
		element:  c.order.PushBack(key),
	}
	return false
}

// Forget drops key so its next announcement is accepted.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.seen[key]; ok {
		c.removeLocked(entry.element)
	}
}

// Reset drops every key.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]*cacheEntry)
	c.order.Init()
}

// Len returns the number of keys held, expired ones included until the
// next access drops them.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// expireLocked drops expired keys from the front of the order list.
func (c *Cache) expireLocked() {
	if c.ttl <= 0 {
		return
	}
	cutoff := c.now().Add(-c.ttl)
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if c.seen[key].markedAt.After(cutoff) {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	key, _ := elem.Value.(string)
	c.order.Remove(elem)
	delete(c.seen, key)
}
