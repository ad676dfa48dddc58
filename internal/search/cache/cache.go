package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Store is a shared second-level cache holding encoded values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Cache provides in-memory caching with TTL and request collapsing (singleflight).
// When a Store is attached, entries are also written to it as JSON and read
// back on local misses.
type Cache[T any] struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry[T]
	ttl      time.Duration
	inflight map[string]*inflightRequest[T]
	store    Store
	onError  func(key string, err error)
	done     chan struct{}
}

type cacheEntry[T any] struct {
	result    T
	expiresAt time.Time
}

type inflightRequest[T any] struct {
	done   chan struct{}
	result T
	hit    bool
	err    error
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	store   Store
	onError func(key string, err error)
}

// WithStore attaches a second-level store.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithErrorHandler sets the function notified of store failures. Store
// failures never fail a lookup.
func WithErrorHandler(fn func(key string, err error)) Option {
	return func(o *options) { o.onError = fn }
}

// NewCache creates a new Cache with the specified TTL.
func NewCache[T any](ttl time.Duration, opts ...Option) *Cache[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[T]{
		entries:  make(map[string]*cacheEntry[T]),
		ttl:      ttl,
		inflight: make(map[string]*inflightRequest[T]),
		store:    o.store,
		onError:  o.onError,
		done:     make(chan struct{}),
	}

	// Start background cleanup
	go c.cleanup()

	return c
}

// Close stops the background cleanup goroutine.
func (c *Cache[T]) Close() {
	close(c.done)
}

// GetOrFetch retrieves from cache or executes the fetch function.
// Concurrent requests for the same key are collapsed (singleflight pattern).
// Returns the result and a boolean indicating if it was a cache hit.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch func() (T, error)) (T, bool, error) {
	c.mu.Lock()

	// Check cache
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.result, true, nil
	}

	// Check for existing in-flight request
	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.result, inflight.hit, inflight.err
		case <-ctx.Done():
			var zero T
			return zero, false, context.Cause(ctx)
		}
	}

	// Create new in-flight request
	inflight := &inflightRequest[T]{
		done: make(chan struct{}),
	}
	c.inflight[key] = inflight
	c.mu.Unlock()

	// Execute fetch (outside of lock)
	result, hit, err := c.load(ctx, key, fetch)

	// Store result
	c.mu.Lock()
	inflight.result = result
	inflight.hit = hit
	inflight.err = err
	if err == nil {
		c.entries[key] = &cacheEntry[T]{
			result:    result,
			expiresAt: time.Now().Add(c.ttl),
		}
	}
	delete(c.inflight, key)
	c.mu.Unlock()

	// Notify all waiters
	close(inflight.done)

	return result, hit, err
}

// load reads the second level before falling back to fetch, and writes
// fetched values through.
func (c *Cache[T]) load(ctx context.Context, key string, fetch func() (T, error)) (T, bool, error) {
	if c.store != nil {
		data, ok, err := c.store.Get(ctx, key)
		if err != nil {
			c.reportError(key, err)
		}
		if ok {
			var result T
			err := json.Unmarshal(data, &result)
			if err == nil {
				return result, true, nil
			}
			c.reportError(key, err)
		}
	}

	result, err := fetch()
	if err != nil || c.store == nil {
		return result, false, err
	}

	data, err := json.Marshal(result)
	if err == nil {
		err = c.store.Set(ctx, key, data, c.ttl)
	}
	if err != nil {
		c.reportError(key, err)
	}
	return result, false, nil
}

func (c *Cache[T]) reportError(key string, err error) {
	if c.onError != nil {
		c.onError(key, err)
	}
}

// Invalidate removes a specific key from the cache.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all entries from the cache.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry[T])
	c.mu.Unlock()
}

// Len returns the number of entries held in memory, expired ones included.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup periodically removes expired entries.
func (c *Cache[T]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}
