package crudcore

import "log/slog"

// CreateEvent/UpdateEvent/DeleteEvent mirror a successful write back out for
// observability; ErrorEvent/failure events mirror spec.md §7's two-surface
// error policy (operation error returned to caller, plus an engine event).
type CreateEvent struct {
	Type     string
	Resource map[string]any
}

type UpdateEvent struct {
	Type string
	ID   string
	Old  map[string]any
	New  map[string]any
}

type DeleteEvent struct {
	Type string
	ID   string
	Old  map[string]any
}

// FailEvent is emitted alongside ErrorEvent for every failed create, read,
// update or delete, and for a socket request the socket handler rejects,
// naming which operation failed.
type FailEvent struct {
	Operation string
	Query     any
	Err       error
}

// ErrorEvent is emitted for every operation failure regardless of kind.
type ErrorEvent struct {
	Err error
}

const eventBufferSize = 64

type eventBus struct {
	creates chan CreateEvent
	updates chan UpdateEvent
	deletes chan DeleteEvent
	fails   chan FailEvent
	errors  chan ErrorEvent
	log     *slog.Logger
}

func newEventBus() *eventBus {
	return &eventBus{
		creates: make(chan CreateEvent, eventBufferSize),
		updates: make(chan UpdateEvent, eventBufferSize),
		deletes: make(chan DeleteEvent, eventBufferSize),
		fails:   make(chan FailEvent, eventBufferSize),
		errors:  make(chan ErrorEvent, eventBufferSize),
		log:     slog.Default(),
	}
}

func (b *eventBus) emitCreate(e CreateEvent) {
	select {
	case b.creates <- e:
	default:
		b.log.Warn("crudcore event buffer full, dropping event", "kind", "create")
	}
}

func (b *eventBus) emitUpdate(e UpdateEvent) {
	select {
	case b.updates <- e:
	default:
		b.log.Warn("crudcore event buffer full, dropping event", "kind", "update")
	}
}

func (b *eventBus) emitDelete(e DeleteEvent) {
	select {
	case b.deletes <- e:
	default:
		b.log.Warn("crudcore event buffer full, dropping event", "kind", "delete")
	}
}

func (b *eventBus) emitFailure(operation string, query any, err error) {
	select {
	case b.fails <- FailEvent{Operation: operation, Query: query, Err: err}:
	default:
		b.log.Warn("crudcore event buffer full, dropping event", "kind", operation+"Fail")
	}
	select {
	case b.errors <- ErrorEvent{Err: err}:
	default:
		b.log.Warn("crudcore event buffer full, dropping event", "kind", "error")
	}
}

// Creates returns the stream of successful create events.
func (c *Core) Creates() <-chan CreateEvent { return c.events.creates }

// Updates returns the stream of successful update events.
func (c *Core) Updates() <-chan UpdateEvent { return c.events.updates }

// Deletes returns the stream of successful delete events.
func (c *Core) Deletes() <-chan DeleteEvent { return c.events.deletes }

// Fails returns the stream of operation failures, named by which operation
// failed ("create", "read", "update", "delete", or "invoke" for a socket
// request whose data cannot be decoded into a query).
func (c *Core) Fails() <-chan FailEvent { return c.events.fails }

// Errors returns the stream of every operation failure regardless of kind.
func (c *Core) Errors() <-chan ErrorEvent { return c.events.errors }
