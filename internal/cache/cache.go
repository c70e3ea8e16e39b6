// Package cache holds the content cache that memoizes completed
// translations across requests. Keys are derived from the content and
// language pair, not the request id, so identical submissions from
// different callers share one entry. Absence is always a valid state; a
// miss just means the full pipeline runs.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/karlseguin/ccache/v3"
)

const defaultMaxEntries = 10000

// Key derives the cache key for a piece of content and its language pair.
func Key(text, sourceLang, targetLang string) string {
	return fmt.Sprintf("translation:%s:%s:%d", sourceLang, targetLang, xxhash.Sum64String(text))
}

// ContentCache is the key/value store used for translation memoization.
// Expiry is best effort: an entry may disappear before its TTL elapses.
type ContentCache interface {

	// Get returns the cached value for key and whether it was present and
	// not expired.
	Get(key string) (string, bool)

	// Put stores value under key for at most ttl.
	Put(key string, value string, ttl time.Duration)

	// Stop cleans up residual resources.
	Stop()
}

// InMemoryCache is an LRU ContentCache backed by ccache.
type InMemoryCache struct {
	ccache     *ccache.Cache[string]
	maxEntries int64
	closeOnce  *sync.Once
}

var _ ContentCache = (*InMemoryCache)(nil)

type Opt func(*InMemoryCache)

// WithMaxEntries bounds the number of cached entries before LRU eviction.
func WithMaxEntries(n int64) Opt {
	return func(c *InMemoryCache) {
		c.maxEntries = n
	}
}

func NewInMemoryCache(opts ...Opt) *InMemoryCache {
	c := &InMemoryCache{
		maxEntries: defaultMaxEntries,
		closeOnce:  &sync.Once{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ccache = ccache.New(ccache.Configure[string]().MaxSize(c.maxEntries))
	return c
}

func (c *InMemoryCache) Get(key string) (string, bool) {
	item := c.ccache.Get(key)
	if item == nil || item.Expired() {
		return "", false
	}
	return item.Value(), true
}

func (c *InMemoryCache) Put(key string, value string, ttl time.Duration) {
	c.ccache.Set(key, value, ttl)
}

func (c *InMemoryCache) Stop() {
	c.closeOnce.Do(func() {
		c.ccache.Stop()
	})
}
