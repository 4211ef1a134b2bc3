package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Entry represents a cached value with the time it was fetched and its expiration
type Entry struct {
	Value     interface{}
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Cache is a simple in-memory cache with TTL.
// A Cache is owned by whoever constructs it; there is no process-wide instance.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*Entry
	clock clock.PassiveClock
}

// FetchFunc loads a fresh value for a key on a cache miss
type FetchFunc func(ctx context.Context) (interface{}, error)

// NewWithClock creates a new cache that reads time from clk. A nil clk
// means the wall clock.
func NewWithClock(clk clock.PassiveClock) *Cache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Cache{items: map[string]*Entry{}, clock: clk}
}

// Set stores a value in the cache with a given TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.items[key] = &Entry{
		Value:     value,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Get retrieves a value from the cache while its age is below the TTL
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if !c.clock.Now().Before(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Value, true
}

// GetOrFetch returns the cached value for key, or calls fetch and stores its
// result with a fresh timestamp. The boolean reports a cache hit. Failed
// fetches are not cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (interface{}, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}
	value, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	c.Set(key, value, ttl)
	return value, false, nil
}

// Fetch is a typed wrapper around GetOrFetch
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	value, hit, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, false, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false, fmt.Errorf("cache entry %q has unexpected type %T", key, value)
	}
	return typed, hit, nil
}

// Invalidate removes all items matching a prefix
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}
