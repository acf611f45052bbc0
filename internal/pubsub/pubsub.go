// Package pubsub declares the socket-server contract this engine is built
// against (Non-goal: the engine does not implement or own a socket server)
// plus one in-memory Exchange used by this module's own tests. The
// subscriber registry — a per-channel map of buffered per-subscriber
// channels, guarded by one mutex, with non-blocking sends and
// context-driven cleanup — is grounded on the teacher's sibling repo
// pattern for realtime fan-out (a RealtimeDispatcher keyed by subscription
// subject rather than socket).
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Action names the four socket lifecycle events the access filter hooks
// into: a client invoking a remote procedure, a client subscribing to a
// channel, and a message about to enter or leave a channel.
type Action string

const (
	ActionInvoke     Action = "INVOKE"
	ActionSubscribe  Action = "SUBSCRIBE"
	ActionPublishIn  Action = "PUBLISH_IN"
	ActionPublishOut Action = "PUBLISH_OUT"
)

// Socket is the minimal per-connection identity the engine needs: a stable
// ID (used for publisher-echo suppression) and the opaque auth token
// passed through to access hooks without interpretation.
type Socket interface {
	ID() string
	AuthToken() string
}

// ProcedureRequest is one inbound invocation of the `crud` procedure, as the
// socket server hands it to CRUD Core (spec.md §4.6 "Socket attach").
type ProcedureRequest interface {
	// Data is the request's raw `{action, ...query}` object.
	Data() map[string]any
	// End completes the request successfully, replying result over the RPC.
	End(result any)
	// Error completes the request with a failure, already passed through
	// clientErrorMapper by the caller.
	Error(err error)
}

// ProcedureSocket is a Socket that additionally exposes the `crud`
// procedure's inbound request stream. A real socket-server adapter
// produces requests strictly in arrival order on this channel; CRUD Core's
// AttachSocket depends on that ordering, not on any buffering of its own.
type ProcedureSocket interface {
	Socket
	Procedure(name string) <-chan ProcedureRequest
}

// Message is one delivery on a channel.
type Message struct {
	Channel string
	Data    any
}

// PublisherCarrier is implemented by the payload types that embed publisher
// identity inline (spec.md §4.5 item 2: the resource-field payload is
// `{type, value, publisherSocketId?, publisherId?}` — bit-exact on the
// wire, not a generic wrapper). PUBLISH_OUT middleware uses it to apply
// echo suppression without caring about the concrete payload type; a
// payload that doesn't implement it (the bare resource channel, or a view
// channel's `{type, value:{id}}`) passes through PUBLISH_OUT unchanged.
type PublisherCarrier interface {
	Publisher() (socketID, publisherID string)
	WithoutPublisher() any
}

// Middleware intercepts one action. Returning allow=false blocks the
// action without an error (lifted to a canonical blocked-error by the
// access filter); returning a non-nil error fails the action outright.
// mutated, when non-nil, replaces data for PUBLISH_IN/PUBLISH_OUT.
type Middleware func(ctx context.Context, action Action, socket Socket, channel string, data any) (allow bool, mutated any, err error)

// Exchange is the socket-server capability this engine depends on: publish
// a message to a channel, subscribe to receive a channel's messages, and
// register middleware that can observe or block actions. A real deployment
// supplies an adapter over its own socket-cluster implementation; this
// package's InMemoryExchange exists only to exercise the rest of the
// engine in tests.
//
// Publish is the engine's own (server-originated) delivery path: it never
// runs PUBLISH_IN hooks, since those exist to police a client's own direct
// publish attempt, not the CRUD core's dispatch of a write it just
// performed. It runs PUBLISH_OUT per subscriber, using that subscriber's
// own Socket, so publisher-echo suppression can compare against the right
// destination.
type Exchange interface {
	Publish(ctx context.Context, channel string, data any) error
	// Subscribe registers socket on channel. data is the client's
	// subscribe-time payload (the SUBSCRIBE action's `action.data`,
	// analogous to a procedure request's data), threaded through to
	// SUBSCRIBE middleware so the access filter can augment non-primary
	// view params with it. Pass nil for both when socket is the engine's
	// own internal bookkeeping, not a client subscription.
	Subscribe(ctx context.Context, channel string, socket Socket, data any) (<-chan Message, func(), error)
	Use(mw Middleware)
}

type subscriber struct {
	id     int64
	stream chan Message
	socket Socket
}

// InMemoryExchange is a single-process Exchange: channel name -> set of
// live subscriber streams, each buffered and drained with a non-blocking
// send so one slow subscriber can't stall publication to the rest.
type InMemoryExchange struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	middleware  []Middleware
}

func NewInMemoryExchange() *InMemoryExchange {
	return &InMemoryExchange{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  32,
	}
}

func (e *InMemoryExchange) Use(mw Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middleware = append(e.middleware, mw)
}

// errBlocked is wrapped by the error runHooks returns when a middleware
// blocks (as opposed to failing), so Publish can skip only that subscriber.
var errBlocked = errors.New("blocked")

// runHooks applies every registered middleware in registration order for
// PUBLISH_IN/PUBLISH_OUT, short-circuiting on the first block or error.
func (e *InMemoryExchange) runHooks(ctx context.Context, action Action, socket Socket, channel string, data any) (any, error) {
	e.mu.RLock()
	chain := append([]Middleware{}, e.middleware...)
	e.mu.RUnlock()

	current := data
	for _, mw := range chain {
		allow, mutated, err := mw(ctx, action, socket, channel, current)
		if err != nil {
			return nil, err
		}
		if !allow {
			return nil, fmt.Errorf("pubsub: %s on channel %q: %w", action, channel, errBlocked)
		}
		if mutated != nil {
			current = mutated
		}
	}
	return current, nil
}

// Publish fans data out to every live subscriber of channel, running
// PUBLISH_OUT hooks once per subscriber with that subscriber's own socket
// so echo-suppression and payload-stripping apply per destination rather
// than globally. A subscriber a hook blocks simply receives nothing.
func (e *InMemoryExchange) Publish(ctx context.Context, channel string, data any) error {
	e.mu.RLock()
	subs := e.subscribers[channel]
	copies := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		copies = append(copies, s)
	}
	e.mu.RUnlock()

	for _, s := range copies {
		final, err := e.runHooks(ctx, ActionPublishOut, s.socket, channel, data)
		if errors.Is(err, errBlocked) {
			continue
		}
		if err != nil {
			return err
		}
		select {
		case s.stream <- Message{Channel: channel, Data: final}:
		default:
		}
	}
	return nil
}

// PublishIn simulates the (externally owned) socket server handing the
// engine a client's direct publish attempt before it would reach the
// channel. Unlike Publish, this runs PUBLISH_IN hooks, which
// internal/accessfilter uses to unconditionally reject CRUD-shaped
// channels: clients only ever mutate state through CRUD Core's
// create/update/delete, never by publishing directly.
func (e *InMemoryExchange) PublishIn(ctx context.Context, socket Socket, channel string, data any) error {
	final, err := e.runHooks(ctx, ActionPublishIn, socket, channel, data)
	if err != nil {
		return err
	}
	return e.Publish(ctx, channel, final)
}

// Subscribe registers a new subscriber on channel, returning its message
// stream and a cleanup function. socket identifies the destination for
// PUBLISH_OUT filtering; pass nil (with data nil too) for the engine's own
// internal bookkeeping subscriptions (e.g. cache invalidation), which aren't
// a client socket, are never subject to echo suppression, and don't run
// through the SUBSCRIBE access-filter pipeline. A real client subscription
// (socket non-nil) runs ActionSubscribe through runHooks first, mirroring
// how Publish/PublishIn already gate PUBLISH_OUT/PUBLISH_IN; a block or
// error there aborts before the subscriber is ever registered. The stream is
// unregistered automatically when ctx is cancelled.
func (e *InMemoryExchange) Subscribe(ctx context.Context, channel string, socket Socket, data any) (<-chan Message, func(), error) {
	if socket != nil {
		if _, err := e.runHooks(ctx, ActionSubscribe, socket, channel, data); err != nil {
			return nil, nil, err
		}
	}

	sub := &subscriber{
		id:     e.nextSequence(),
		stream: make(chan Message, e.bufferSize),
		socket: socket,
	}

	e.mu.Lock()
	if e.subscribers[channel] == nil {
		e.subscribers[channel] = make(map[int64]*subscriber)
	}
	e.subscribers[channel][sub.id] = sub
	e.mu.Unlock()

	cleanup := func() { e.unregister(channel, sub.id) }
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup, nil
}

func (e *InMemoryExchange) nextSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return e.nextID
}

func (e *InMemoryExchange) unregister(channel string, id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.subscribers[channel]
	if subs == nil {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(e.subscribers, channel)
	}
}

// SubscriberCount reports how many live subscribers a channel has, for
// tests asserting on fan-out behavior.
func (e *InMemoryExchange) SubscriberCount(channel string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[channel])
}
