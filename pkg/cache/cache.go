// Package cache provides a small TTL cache with stale-while-revalidate
// semantics for backend lookups that tolerate slightly stale answers,
// such as wallet unit-price rates.
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

// Hooks are optional callbacks for instrumentation.
type Hooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string)
}

type entry struct {
	value     interface{}
	expiresAt time.Time
	staleAt   time.Time
}

type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry
	order []string
	opts  Options
	hooks Hooks
	sf    singleflight.Group
}

func New(opts Options, hooks Hooks) *Cache {
	return &Cache{
		items: make(map[string]*entry),
		order: make([]string, 0, 64),
		opts:  opts,
		hooks: hooks,
	}
}

// Loader fetches the value for a key on miss.
type Loader func(ctx context.Context, key string) (interface{}, error)

// Get returns the cached value for key, loading it via loader on miss.
// Within the stale window the old value is returned and a single background
// refresh is kicked off.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, error) {
	now := time.Now()
	c.mu.RLock()
	if e, ok := c.items[key]; ok {
		if now.Before(e.expiresAt) {
			val := e.value
			c.mu.RUnlock()
			if c.hooks.OnHit != nil {
				c.hooks.OnHit(key)
			}
			return val, nil
		}
		if now.Before(e.staleAt) {
			val := e.value
			c.mu.RUnlock()
			if c.hooks.OnStale != nil {
				c.hooks.OnStale(key)
			}
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					if v, err := loader(context.Background(), key); err == nil {
						c.Set(key, v)
					}
					return nil, nil
				})
			}()
			return val, nil
		}
		c.mu.RUnlock()
		c.Delete(key)
	} else {
		c.mu.RUnlock()
	}

	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss(key)
	}
	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		v, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value under key with the configured TTL.
func (c *Cache) Set(key string, val interface{}) {
	now := time.Now()
	e := &entry{
		value:     val,
		expiresAt: now.Add(c.opts.TTL),
		staleAt:   now.Add(c.opts.TTL + c.opts.StaleWhileRevalidate),
	}
	c.mu.Lock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
	c.mu.Unlock()
}

// Peek returns a cached value without triggering a load. Stale entries are allowed.
func (c *Cache) Peek(key string) (interface{}, bool) {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || now.After(e.staleAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// caller holds c.mu
func (c *Cache) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}
