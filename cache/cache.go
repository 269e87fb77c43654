// Package cache implements the bounded results cache: a fingerprint-keyed
// store with LRU eviction, at-most-once production per key and prometheus
// instrumentation. Cache participation is surfaced at the wire through the
// x-cache and results-cache-status headers.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/nittaya1990/spiced/request"
)

// Status is the cache participation outcome attached to every SQL response.
type Status int

const (
	// StatusDisabled means no cache is configured.
	StatusDisabled Status = iota
	// StatusHit means the artifact was served from the cache.
	StatusHit
	// StatusMiss means the cache was consulted and the artifact was absent.
	StatusMiss
	// StatusBypass means the request carried a no-cache directive and the
	// store was not consulted.
	StatusBypass
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "HIT"
	case StatusMiss:
		return "MISS"
	case StatusBypass:
		return "BYPASS"
	default:
		return "DISABLED"
	}
}

// Artifact is a materialized query result held by the cache.
type Artifact interface {
	SizeBytes() int64
}

// Config configures a ResultsCache.
type Config struct {
	// MaxSizeBytes bounds the total byte size of cached artifacts.
	MaxSizeBytes int64
	// Registerer receives the cache metrics. Defaults to the global
	// prometheus registerer.
	Registerer prometheus.Registerer
}

type entry struct {
	key       Fingerprint
	artifact  Artifact
	byteSize  int64
	createdAt time.Time
	hitCount  int64
}

// ResultsCache is a byte-bounded LRU store keyed by request fingerprint.
// A nil *ResultsCache is valid and behaves as disabled.
type ResultsCache struct {
	mu      sync.Mutex
	entries map[Fingerprint]*list.Element
	lru     *list.List // front = most recently used
	size    int64
	maxSize int64

	flight  singleflight.Group
	metrics *metrics
}

// New creates a results cache bounded to cfg.MaxSizeBytes.
func New(cfg Config) *ResultsCache {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &ResultsCache{
		entries: map[Fingerprint]*list.Element{},
		lru:     list.New(),
		maxSize: cfg.MaxSizeBytes,
		metrics: newMetrics(reg),
	}
	c.metrics.maxSizeBytes.Set(float64(cfg.MaxSizeBytes))
	return c
}

// Get returns the cached artifact for key and the cache status. A no-cache
// request returns StatusBypass without consulting the store; a nil cache
// returns StatusDisabled.
func (c *ResultsCache) Get(ctx context.Context, key Fingerprint) (Artifact, Status) {
	if c == nil {
		return nil, StatusDisabled
	}
	if request.FromContext(ctx).CacheControl() == request.CacheControlNoCache {
		return nil, StatusBypass
	}

	c.metrics.requests.Inc()
	if a, ok := c.lookup(key); ok {
		c.metrics.hits.Inc()
		return a, StatusHit
	}
	return nil, StatusMiss
}

// Producer materializes the artifact for a fingerprint on a cache miss.
type Producer func(ctx context.Context) (Artifact, error)

// GetOrCompute returns the artifact for key, invoking producer at most once
// across all concurrent callers for the same key. Duplicate callers await the
// in-flight producer and share its result; on failure nothing is cached and
// every waiter receives the same error.
func (c *ResultsCache) GetOrCompute(ctx context.Context, key Fingerprint, producer Producer) (Artifact, Status, error) {
	if c == nil {
		a, err := producer(ctx)
		return a, StatusDisabled, err
	}

	if request.FromContext(ctx).CacheControl() == request.CacheControlNoCache {
		a, err := producer(ctx)
		if err != nil {
			return nil, StatusBypass, err
		}
		// Store anyway so other requests benefit.
		c.Put(key, a)
		return a, StatusBypass, nil
	}

	c.metrics.requests.Inc()
	if a, ok := c.lookup(key); ok {
		c.metrics.hits.Inc()
		return a, StatusHit, nil
	}

	var mine bool
	ch := c.flight.DoChan(string(key), func() (any, error) {
		mine = true
		// A peer's producer may have completed between our store lookup and
		// joining the flight.
		if a, ok := c.lookup(key); ok {
			return a, nil
		}
		a, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, a)
		return a, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, StatusMiss, res.Err
		}
		if !mine {
			// Attached to a peer's in-flight producer: the artifact was
			// produced once and shared, which counts as a hit.
			c.metrics.hits.Inc()
			return res.Val.(Artifact), StatusHit, nil
		}
		return res.Val.(Artifact), StatusMiss, nil
	case <-ctx.Done():
		return nil, StatusMiss, ctx.Err()
	}
}

// Put inserts the artifact and evicts least-recently-used entries until the
// total byte size fits within the configured bound.
func (c *ResultsCache) Put(key Fingerprint, artifact Artifact) {
	if c == nil || artifact == nil {
		return
	}

	byteSize := artifact.SizeBytes()
	if byteSize > c.maxSize {
		logger.Debugf("results cache: artifact for %s (%d bytes) exceeds max size %d, not caching", key, byteSize, c.maxSize)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.size -= el.Value.(*entry).byteSize
		c.lru.Remove(el)
		delete(c.entries, key)
	}

	e := &entry{key: key, artifact: artifact, byteSize: byteSize, createdAt: time.Now()}
	c.entries[key] = c.lru.PushFront(e)
	c.size += byteSize

	for c.size > c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.entries, evicted.key)
		c.size -= evicted.byteSize
		logger.Tracef("results cache: evicted %s (%d bytes)", evicted.key, evicted.byteSize)
	}

	c.metrics.sizeBytes.Set(float64(c.size))
	c.metrics.itemsCount.Set(float64(len(c.entries)))
}

// Clear removes every entry from the cache.
func (c *ResultsCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[Fingerprint]*list.Element{}
	c.lru.Init()
	c.size = 0
	c.metrics.sizeBytes.Set(0)
	c.metrics.itemsCount.Set(0)
}

// SizeBytes returns the total byte size of cached artifacts.
func (c *ResultsCache) SizeBytes() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Contains reports whether key is present without updating recency.
func (c *ResultsCache) Contains(key Fingerprint) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// lookup fetches an entry and updates its LRU position and hit count.
func (c *ResultsCache) lookup(key Fingerprint) (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	e.hitCount++
	c.lru.MoveToFront(el)
	return e.artifact, true
}
