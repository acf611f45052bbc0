// Package cache implements the bounded, per-resource, TTL-based read cache
// with single-flight loading and pending-write coalescing. The map/mutex
// guarding style follows the teacher's collectioncache.Manager; single-flight
// coalescing itself is delegated to golang.org/x/sync/singleflight rather
// than a hand-rolled waiter list, since it is the idiomatic Go primitive for
// "at most one outstanding provider per key."
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultDuration is the TTL applied to a freshly-set entry when the cache
// is constructed without an explicit duration.
const DefaultDuration = 10 * time.Second

// Provider loads a resource on a cache miss.
type Provider func(ctx context.Context) (map[string]any, error)

type entry struct {
	resource map[string]any
	pending  bool
	patch    map[string]any
	timer    *time.Timer
}

// Cache is a bounded per-resource TTL cache. The zero value is not usable;
// construct with New.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	duration time.Duration
	disabled bool
	sf       singleflight.Group
	log      *slog.Logger

	hits    chan HitEvent
	misses  chan MissEvent
	sets    chan SetEvent
	updates chan UpdateEvent
	expires chan ExpireEvent
	clears  chan ClearEvent
}

// Options configures a new Cache.
type Options struct {
	Duration time.Duration
	Disabled bool
	Logger   *slog.Logger
}

const eventBuffer = 64

// New constructs a Cache. A zero Duration falls back to DefaultDuration.
func New(opts Options) *Cache {
	duration := opts.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries:  make(map[string]*entry),
		duration: duration,
		disabled: opts.Disabled,
		log:      logger,
		hits:     make(chan HitEvent, eventBuffer),
		misses:   make(chan MissEvent, eventBuffer),
		sets:     make(chan SetEvent, eventBuffer),
		updates:  make(chan UpdateEvent, eventBuffer),
		expires:  make(chan ExpireEvent, eventBuffer),
		clears:   make(chan ClearEvent, eventBuffer),
	}
}

func resourcePath(typ, id string) string { return typ + "/" + id }

// Pass performs an idempotent, single-flight read for (typ, id). When typ or
// id is empty, or the cache is disabled, it bypasses the cache entirely.
func (c *Cache) Pass(ctx context.Context, typ, id string, provider Provider) (map[string]any, error) {
	if c.disabled || typ == "" || id == "" {
		return provider(ctx)
	}
	path := resourcePath(typ, id)

	c.mu.Lock()
	if e, ok := c.entries[path]; ok && !e.pending {
		c.armTimer(path, e)
		c.mu.Unlock()
		c.emitHit(typ, id)
		return cloneResource(e.resource), nil
	}
	isNew := false
	if _, ok := c.entries[path]; !ok {
		c.entries[path] = &entry{pending: true, patch: map[string]any{}}
		isNew = true
	}
	c.mu.Unlock()
	if isNew {
		c.emitMiss(typ, id)
	}

	v, err, _ := c.sf.Do(path, func() (any, error) {
		resource, ferr := provider(ctx)
		if ferr != nil {
			c.mu.Lock()
			delete(c.entries, path)
			c.mu.Unlock()
			return nil, ferr
		}

		c.mu.Lock()
		e, ok := c.entries[path]
		if !ok {
			e = &entry{patch: map[string]any{}}
			c.entries[path] = e
		}
		merged := mergeResourcePatch(resource, e.patch)
		e.resource = merged
		e.pending = false
		e.patch = map[string]any{}
		c.armTimer(path, e)
		c.mu.Unlock()

		c.emitSet(typ, id, merged)
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneResource(v.(map[string]any)), nil
}

// Update writes fields onto the cached resource for (typ, id), or, if a
// provider is still in flight, accumulates them onto the pending patch so
// the next completion sees the overlay. It is a no-op if nothing is cached.
func (c *Cache) Update(typ, id string, fields map[string]any) {
	if c.disabled {
		return
	}
	path := resourcePath(typ, id)

	c.mu.Lock()
	e, ok := c.entries[path]
	if !ok {
		c.mu.Unlock()
		return
	}
	if e.pending {
		for k, v := range fields {
			e.patch[k] = v
		}
		c.mu.Unlock()
		return
	}
	if e.resource == nil {
		e.resource = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		e.resource[k] = v
	}
	c.mu.Unlock()
	c.emitUpdate(typ, id, fields)
}

// Clear removes the entry for (typ, id), cancelling its expiry timer, and
// emits a clear event.
func (c *Cache) Clear(typ, id string) {
	path := resourcePath(typ, id)

	c.mu.Lock()
	e, ok := c.entries[path]
	if ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, path)
	}
	c.mu.Unlock()

	if ok {
		c.emitClear(typ, id)
	}
}

// armTimer (re)installs the single-shot expiry timer on e, cancelling any
// previous one. Must be called with c.mu held.
func (c *Cache) armTimer(path string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	timer := time.AfterFunc(c.duration, func() { c.onExpire(path, e) })
	e.timer = timer
}

func (c *Cache) onExpire(path string, fired *entry) {
	c.mu.Lock()
	current, ok := c.entries[path]
	if !ok || current != fired {
		c.mu.Unlock()
		return
	}
	delete(c.entries, path)
	c.mu.Unlock()

	typ, id := splitResourcePath(path)
	c.emitExpire(typ, id)
}

func splitResourcePath(path string) (typ, id string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

func mergeResourcePatch(resource map[string]any, patch map[string]any) map[string]any {
	if len(patch) == 0 {
		return resource
	}
	merged := make(map[string]any, len(resource)+len(patch))
	for k, v := range resource {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func cloneResource(resource map[string]any) map[string]any {
	if resource == nil {
		return nil
	}
	out := make(map[string]any, len(resource))
	for k, v := range resource {
		out[k] = v
	}
	return out
}
