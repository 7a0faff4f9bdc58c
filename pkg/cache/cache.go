package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSize = 1024
	defaultTTL  = 5 * time.Minute
)

// FetchFunc resolves a normalized key against the external source.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Options configures a Cache.
type Options struct {
	// TTL is how long a fetched value stays valid.
	TTL time.Duration
	// Size bounds the number of keys kept; least recently used keys go first.
	Size int
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Stats reports cumulative lookups served from memory and from the source.
type Stats struct {
	Hits   uint64
	Misses uint64
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache holds short-lived answers from rate-limited external sources.
//
// Stale entries are treated as misses and overwritten on the next successful
// fetch; failed fetches never replace what is stored.
type Cache[V any] struct {
	entries *lru.Cache[string, entry[V]]
	flights singleflight.Group
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New builds a cache, falling back to defaults for zero options.
func New[V any](opts Options) (*Cache[V], error) {
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	entries, err := lru.New[string, entry[V]](opts.Size)
	if err != nil {
		return nil, err
	}

	return &Cache[V]{
		entries: entries,
		ttl:     opts.TTL,
		now:     opts.Now,
	}, nil
}

// NormalizeKey returns the canonical form used for storage and fetches.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// GetOrFetch returns a valid cached value or fetches it with the default TTL.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	return c.GetOrFetchTTL(ctx, key, c.ttl, fetch)
}

// GetOrFetchTTL returns a value younger than ttl or invokes fetch.
//
// Concurrent misses for the same key share one in-flight fetch. Every call
// counts once in Stats: a miss if it ran fetch or shared a failed one,
// otherwise a hit.
func (c *Cache[V]) GetOrFetchTTL(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[V]) (V, error) {
	key = NormalizeKey(key)

	if value, ok := c.lookup(key, ttl); ok {
		c.hits.Add(1)
		return value, nil
	}

	fetched := false
	result, err, _ := c.flights.Do(key, func() (any, error) {
		// A concurrent flight may have stored the value while this one waited.
		if value, ok := c.lookup(key, ttl); ok {
			return value, nil
		}

		fetched = true
		c.misses.Add(1)
		value, err := fetch(ctx, key)
		if err != nil {
			return value, err
		}

		c.entries.Add(key, entry[V]{value: value, fetchedAt: c.now()})
		return value, nil
	})
	if err != nil {
		if !fetched {
			c.misses.Add(1)
		}
		var zero V
		return zero, err
	}
	if !fetched {
		c.hits.Add(1)
	}

	return result.(V), nil
}

// Stats returns cumulative hit/miss counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *Cache[V]) lookup(key string, ttl time.Duration) (V, bool) {
	stored, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(stored.fetchedAt) >= ttl {
		var zero V
		return zero, false
	}

	return stored.value, true
}
