package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	MaxEntries           int
}

// MetricsHooks receive the outcome of every Get. All hooks are optional.
type MetricsHooks struct {
	OnHit   func()
	OnMiss  func()
	OnStale func()
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	staleAt   time.Time
}

// Cache is a TTL cache with stale-while-revalidate. Concurrent loads of
// the same key are collapsed into one loader call.
type Cache[V any] struct {
	mu      sync.RWMutex
	items   map[string]*entry[V]
	order   []string
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
	now     func() time.Time
}

func New[V any](opts Options, hooks MetricsHooks) *Cache[V] {
	return &Cache[V]{
		items:   make(map[string]*entry[V]),
		opts:    opts,
		metrics: hooks,
		now:     time.Now,
	}
}

// Loader fetches a fresh value. Returning ok=false leaves the cache
// untouched, so failures and empty results are retried on the next Get.
type Loader[V any] func(ctx context.Context, key string) (V, bool, error)

type loadResult[V any] struct {
	val V
	ok  bool
	err error
}

func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, bool, error) {
	now := c.now()
	c.mu.RLock()
	e, found := c.items[key]
	c.mu.RUnlock()

	if found {
		if now.Before(e.expiresAt) {
			hook(c.metrics.OnHit)
			return e.value, true, nil
		}
		if now.Before(e.staleAt) {
			hook(c.metrics.OnStale)
			// Detached so the refresh outlives the request that triggered it.
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					if val, ok, err := loader(refreshCtx, key); ok && err == nil {
						c.Set(key, val)
					}
					return nil, nil
				})
			}()
			return e.value, true, nil
		}
		c.Delete(key)
	}

	hook(c.metrics.OnMiss)
	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		if ok && err == nil {
			c.Set(key, val)
		}
		return loadResult[V]{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult[V])
	return res.val, res.ok, res.err
}

func (c *Cache[V]) Set(key string, val V) {
	now := c.now()
	e := &entry[V]{
		value:     val,
		expiresAt: now.Add(c.opts.TTL),
		staleAt:   now.Add(c.opts.TTL + c.opts.StaleWhileRevalidate),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictLocked()
}

// Peek returns a cached value without loading. Stale entries count.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || c.now().After(e.staleAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// FIFO eviction.
func (c *Cache[V]) evictLocked() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

func hook(fn func()) {
	if fn != nil {
		fn()
	}
}
