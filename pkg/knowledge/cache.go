package knowledge

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a retrieved bundle stays fresh.
const DefaultCacheTTL = 10 * time.Minute

type cacheEntry struct {
	bundle    Bundle
	fetchedAt time.Time
}

// CachingRetriever wraps a Retriever with a thread-safe in-memory TTL
// cache keyed by the full query. Expired entries are cleaned up lazily on
// lookup, with no background goroutine.
type CachingRetriever struct {
	inner Retriever
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewCachingRetriever wraps inner with a TTL cache. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewCachingRetriever(inner Retriever, ttl time.Duration) *CachingRetriever {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachingRetriever{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

var _ Retriever = (*CachingRetriever)(nil)

// Retrieve returns the cached bundle when fresh, otherwise delegates to
// the wrapped retriever and caches the result. Errors are never cached.
func (c *CachingRetriever) Retrieve(ctx context.Context, q Query) (Bundle, error) {
	key := cacheKey(q)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if time.Since(entry.fetchedAt) <= c.ttl {
			return entry.bundle, nil
		}
		// Expired; clean up lazily. Re-check under the write lock: a
		// concurrent Retrieve may have stored a fresh entry in between.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	bundle, err := c.inner.Retrieve(ctx, q)
	if err != nil {
		return Bundle{}, err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{bundle: bundle, fetchedAt: time.Now()}
	c.mu.Unlock()
	return bundle, nil
}

func cacheKey(q Query) string {
	// Queries are small; JSON gives a stable composite key.
	b, err := json.Marshal(q)
	if err != nil {
		return q.Query
	}
	return string(b)
}
