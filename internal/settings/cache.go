package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/coocood/freecache"
)

const (
	// DefaultCacheSize is the freecache arena size. freecache enforces a
	// 512KB minimum.
	DefaultCacheSize = 512 * 1024

	// DefaultCacheTTLSeconds bounds how long a value written by another
	// process can be hidden behind the cache.
	DefaultCacheTTLSeconds = 300
)

// Cached values carry a one-byte tag so absent keys can be cached too.
const (
	tagAbsent  byte = 0
	tagPresent byte = 1
)

// CachedBackend is a read-through cache in front of another Backend. Writes
// go to the inner backend first and then refresh the cache.
//
// Every write bumps gen under mu. A miss fills the cache only if gen is
// unchanged since before the inner read, so a value read before a concurrent
// write never replaces the written one.
type CachedBackend struct {
	inner Backend
	cache *freecache.Cache
	ttl   int

	mu  sync.Mutex
	gen uint64
}

// NewCachedBackend wraps inner with a freecache of the given size in bytes
// and TTL in seconds. Non-positive values select the defaults.
func NewCachedBackend(inner Backend, size, ttlSeconds int) *CachedBackend {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultCacheTTLSeconds
	}
	return &CachedBackend{
		inner: inner,
		cache: freecache.NewCache(size),
		ttl:   ttlSeconds,
	}
}

func (c *CachedBackend) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.cache.Get([]byte(key))
	if err == nil && len(raw) > 0 {
		if raw[0] == tagAbsent {
			return "", false, nil
		}
		return string(raw[1:]), true, nil
	}
	if err != nil && !errors.Is(err, freecache.ErrNotFound) {
		c.cache.Del([]byte(key))
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	v, ok, err := c.inner.Get(ctx, key)
	if err != nil {
		return "", false, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.remember(key, v, ok)
	}
	c.mu.Unlock()
	return v, ok, nil
}

func (c *CachedBackend) Put(ctx context.Context, entries ...Entry) error {
	err := c.inner.Put(ctx, entries...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if err != nil {
		c.forget(entries...)
		return err
	}
	for _, e := range entries {
		c.remember(e.Key, e.Value, true)
	}
	return nil
}

func (c *CachedBackend) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if err != nil {
		c.cache.Del([]byte(key))
		return err
	}
	c.remember(key, "", false)
	return nil
}

func (c *CachedBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	c.invalidate(key)
	err := c.inner.Update(ctx, key, fn)
	c.invalidate(key)
	return err
}

func (c *CachedBackend) invalidate(key string) {
	c.mu.Lock()
	c.gen++
	c.cache.Del([]byte(key))
	c.mu.Unlock()
}

// HitRate reports the cache hit ratio since creation.
func (c *CachedBackend) HitRate() float64 {
	return c.cache.HitRate()
}

func (c *CachedBackend) remember(key, value string, ok bool) {
	buf := make([]byte, 0, len(value)+1)
	if ok {
		buf = append(buf, tagPresent)
		buf = append(buf, value...)
	} else {
		buf = append(buf, tagAbsent)
	}
	// Values larger than freecache's entry limit are simply not cached.
	_ = c.cache.Set([]byte(key), buf, c.ttl)
}

func (c *CachedBackend) forget(entries ...Entry) {
	for _, e := range entries {
		c.cache.Del([]byte(e.Key))
	}
}
