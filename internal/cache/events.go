package cache

// HitEvent is emitted when Pass resolves from a resident, non-pending entry.
type HitEvent struct{ Type, ID string }

// MissEvent is emitted once per resourcePath when Pass has to launch a
// provider because no entry existed yet.
type MissEvent struct{ Type, ID string }

// SetEvent is emitted once a provider completes and its (possibly
// patch-merged) result is stored.
type SetEvent struct {
	Type, ID string
	Resource map[string]any
}

// UpdateEvent is emitted when Update writes directly onto a resident entry.
type UpdateEvent struct {
	Type, ID string
	Fields   map[string]any
}

// ExpireEvent is emitted when an entry's TTL timer fires.
type ExpireEvent struct{ Type, ID string }

// ClearEvent is emitted when Clear removes an entry.
type ClearEvent struct{ Type, ID string }

// Hits returns the stream of hit events. The CRUD core does not need to
// consume this one to stay correct; it exists for observability/testing.
func (c *Cache) Hits() <-chan HitEvent { return c.hits }

// Misses returns the stream of miss events.
func (c *Cache) Misses() <-chan MissEvent { return c.misses }

// Sets returns the stream of set events.
func (c *Cache) Sets() <-chan SetEvent { return c.sets }

// Updates returns the stream of update events.
func (c *Cache) Updates() <-chan UpdateEvent { return c.updates }

// Expires returns the stream of expire events. The CRUD core listens on this
// to unsubscribe the corresponding resource channel.
func (c *Cache) Expires() <-chan ExpireEvent { return c.expires }

// Clears returns the stream of clear events. The CRUD core listens on this
// to unsubscribe the corresponding resource channel.
func (c *Cache) Clears() <-chan ClearEvent { return c.clears }

// emitHit etc. follow the teacher's RefreshCh pattern in
// collectioncache.Manager: a non-blocking send so a slow consumer never
// stalls a cache operation, dropping the event with a log line if the
// buffer is full.

func (c *Cache) emitHit(typ, id string) {
	select {
	case c.hits <- HitEvent{Type: typ, ID: id}:
	default:
		c.log.Warn("cache event buffer full, dropping event", "kind", "hit")
	}
}

func (c *Cache) emitMiss(typ, id string) {
	select {
	case c.misses <- MissEvent{Type: typ, ID: id}:
	default:
		c.log.Warn("cache event buffer full, dropping event", "kind", "miss")
	}
}

func (c *Cache) emitSet(typ, id string, resource map[string]any) {
	select {
	case c.sets <- SetEvent{Type: typ, ID: id, Resource: resource}:
	default:
		c.log.Warn("cache event buffer full, dropping event", "kind", "set")
	}
}

func (c *Cache) emitUpdate(typ, id string, fields map[string]any) {
	select {
	case c.updates <- UpdateEvent{Type: typ, ID: id, Fields: fields}:
	default:
		c.log.Warn("cache event buffer full, dropping event", "kind", "update")
	}
}

func (c *Cache) emitExpire(typ, id string) {
	select {
	case c.expires <- ExpireEvent{Type: typ, ID: id}:
	default:
		c.log.Warn("cache event buffer full, dropping event", "kind", "expire")
	}
}

func (c *Cache) emitClear(typ, id string) {
	select {
	case c.clears <- ClearEvent{Type: typ, ID: id}:
	default:
		c.log.Warn("cache event buffer full, dropping event", "kind", "clear")
	}
}
