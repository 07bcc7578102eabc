package oidc

import (
	"container/list"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"
)

// TokenCache caches validated access-token claims so repeated checks
// of the same token skip the cryptography or the introspection round
// trip.
type TokenCache interface {
	// Get retrieves cached claims by key. Returns nil if not found or
	// expired.
	Get(key string) *AccessTokenClaims

	// Set stores claims with the specified TTL.
	Set(key string, claims *AccessTokenClaims, ttl time.Duration)

	// Delete removes an entry from the cache.
	Delete(key string)

	// Clear removes all cached claims.
	Clear()
}

// cacheKey derives a cache key from a token. The token itself never
// serves as a map key.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// cacheEntry is a single cached item with expiration.
type cacheEntry struct {
	claims    *AccessTokenClaims
	expiresAt time.Time
	key       string
}

// lruCache is an in-memory LRU cache with TTL and a background sweep.
type lruCache struct {
	mu        sync.Mutex
	maxSize   int
	items     map[string]*list.Element
	lruList   *list.List
	done      chan struct{}
	closeOnce sync.Once
}

// newLRUCache creates an LRU cache with the given maximum size.
func newLRUCache(maxSize int) *lruCache {
	if maxSize <= 0 {
		maxSize = 1000
	}

	cache := &lruCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lruList: list.New(),
		done:    make(chan struct{}),
	}

	go cache.sweepLoop()

	return cache
}

func (c *lruCache) Get(key string) *AccessTokenClaims {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil
	}

	c.lruList.MoveToFront(elem)
	return entry.claims
}

func (c *lruCache) Set(key string, claims *AccessTokenClaims, ttl time.Duration) {
	if claims == nil || ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.claims = claims
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(elem)
		return
	}

	entry := &cacheEntry{
		claims:    claims,
		expiresAt: expiresAt,
		key:       key,
	}
	c.items[key] = c.lruList.PushFront(entry)

	if c.lruList.Len() > c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *lruCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lruList.Init()
}

// removeElement removes an element. Must be called with the lock held.
func (c *lruCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.lruList.Remove(elem)
}

// sweepLoop periodically removes expired entries.
func (c *lruCache) sweepLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.done:
			return
		}
	}
}

// sweepExpired removes all expired cache entries.
func (c *lruCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*list.Element
	for elem := c.lruList.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*cacheEntry).expiresAt) {
			expired = append(expired, elem)
		}
	}
	for _, elem := range expired {
		c.removeElement(elem)
	}
}

// Close stops the sweep goroutine.
func (c *lruCache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// noopCache is the cache used when caching is disabled.
type noopCache struct{}

func (noopCache) Get(key string) *AccessTokenClaims { return nil }

func (noopCache) Set(key string, claims *AccessTokenClaims, ttl time.Duration) {}

func (noopCache) Delete(key string) {}

func (noopCache) Clear() {}
