package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/maxaizer/jobsync/internal/clock"
	"github.com/maxaizer/jobsync/internal/metrics"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Fetcher performs the network read behind a cache key.
type Fetcher func(ctx context.Context) ([]byte, error)

type entry struct {
	payload  []byte
	storedAt time.Time
}

// RequestCache memoizes idempotent reads. Entries are judged against the injected
// clock; go-cache only drops them from memory once they are long dead.
type RequestCache struct {
	clock clock.Clock
	items *gocache.Cache
	group singleflight.Group

	mu         sync.Mutex
	generation uint64
}

func New(c clock.Clock) *RequestCache {
	return &RequestCache{
		clock: c,
		items: gocache.New(10*time.Minute, 20*time.Minute),
	}
}

// Key identifies a read by method, url and a hash of its body.
func Key(method string, url string, body []byte) string {
	key := strings.ToUpper(method) + " " + url
	if len(body) == 0 {
		return key
	}
	bodyHash := sha256.Sum256(body)
	return key + " " + hex.EncodeToString(bodyHash[:])
}

// Get returns the stored payload if it is younger than ttl, otherwise calls fetch and
// stores its result. Concurrent misses for one key share a single fetch. Failed fetches
// are never stored. A ttl of zero always fetches.
func (c *RequestCache) Get(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) ([]byte, error) {
	if payload, found := c.lookup(key, ttl); found {
		metrics.CacheRequestsCounter.WithLabelValues("hit").Inc()
		return payload, nil
	}
	metrics.CacheRequestsCounter.WithLabelValues("miss").Inc()

	generation := c.currentGeneration()
	result, err, _ := c.group.Do(key, func() (any, error) {
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, payload, ttl, generation)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *RequestCache) Invalidate(key string) {
	c.bumpGeneration()
	c.items.Delete(key)
	c.group.Forget(key)
}

// InvalidatePrefix drops every key starting with prefix, e.g. all job searches.
func (c *RequestCache) InvalidatePrefix(prefix string) {
	c.bumpGeneration()
	for key := range c.items.Items() {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
			c.group.Forget(key)
		}
	}
}

func (c *RequestCache) Flush() {
	c.bumpGeneration()
	c.items.Flush()
}

func (c *RequestCache) lookup(key string, ttl time.Duration) ([]byte, bool) {
	if ttl <= 0 {
		return nil, false
	}

	cached, found := c.items.Get(key)
	if !found {
		return nil, false
	}

	e := cached.(entry)
	if c.clock.Now().Sub(e.storedAt) >= ttl {
		return nil, false
	}
	return e.payload, true
}

// store skips the write if an invalidation happened while the fetch was in flight.
func (c *RequestCache) store(key string, payload []byte, ttl time.Duration, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}

	expiration := gocache.DefaultExpiration
	if ttl > 0 {
		expiration = ttl
	}
	c.items.Set(key, entry{payload: payload, storedAt: c.clock.Now()}, expiration)
}

func (c *RequestCache) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *RequestCache) bumpGeneration() {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()
}
