// Package crudcore implements create/read/update/delete against the
// document database, maintains the per-resource cache, and drives the
// publication dispatcher that turns a write into a precise set of channel
// publications. It is the hub every other leaf package (validate, channel,
// cache, viewaffect, querytransform, accessfilter) is wired through. Event
// emission follows the same non-blocking buffered-channel pattern as
// internal/cache/events.go, generalized to create/update/delete lifecycle
// events.
package crudcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaycrud/engine/internal/accessfilter"
	"github.com/relaycrud/engine/internal/cache"
	"github.com/relaycrud/engine/internal/channel"
	"github.com/relaycrud/engine/internal/dbdriver"
	"github.com/relaycrud/engine/internal/errs"
	"github.com/relaycrud/engine/internal/pubsub"
	"github.com/relaycrud/engine/internal/schema"
	"github.com/relaycrud/engine/internal/validate"
)

// ClientErrorMapper transforms an internal error into the shape returned to
// the invoking socket. The default is identity.
type ClientErrorMapper func(err error, action schema.Action, q schema.Query) error

// Core wires together the schema, cache, database driver, access filter and
// socket exchange into the realtime CRUD engine. Construct with New; the
// zero value is not usable.
type Core struct {
	schema       *schema.Schema
	db           dbdriver.Database
	cache        *cache.Cache
	access       *accessfilter.Filter
	exchange     pubsub.Exchange
	errorMapper  ClientErrorMapper
	validators   map[string]validate.ModelValidator
	log          *slog.Logger

	mu           sync.Mutex
	resourceSubs map[string]func() // resource path -> unsubscribe

	events *eventBus
}

// Options configures a new Core.
type Options struct {
	Schema            *schema.Schema
	Database          dbdriver.Database
	Cache             *cache.Cache
	Exchange          pubsub.Exchange
	ClientErrorMapper ClientErrorMapper
	Logger            *slog.Logger
}

func New(opts Options) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mapper := opts.ClientErrorMapper
	if mapper == nil {
		mapper = func(err error, action schema.Action, q schema.Query) error { return err }
	}

	c := &Core{
		schema:       opts.Schema,
		db:           opts.Database,
		cache:        opts.Cache,
		exchange:     opts.Exchange,
		errorMapper:  mapper,
		validators:   make(map[string]validate.ModelValidator),
		log:          logger,
		resourceSubs: make(map[string]func()),
		events:       newEventBus(),
	}
	c.access = accessfilter.New(opts.Schema, c.fetchForAccessFilter)
	c.watchCacheLifecycle()
	return c
}

// modelValidator lazily compiles and caches a model's validator.
func (c *Core) modelValidator(modelName string) (validate.ModelValidator, error) {
	if v, ok := c.validators[modelName]; ok {
		return v, nil
	}
	model, ok := c.schema.Models[modelName]
	if !ok {
		return nil, &errs.CRUDInvalidModelType{Type: modelName}
	}
	v := validate.BuildModelValidator(modelName, model.Fields, validate.ModelValidatorOptions{})
	c.validators[modelName] = v
	return v, nil
}

// watchCacheLifecycle binds cache expire/clear events to unsubscribing the
// corresponding resource channel, so resource-change notifications stop
// once a resource is no longer cached.
func (c *Core) watchCacheLifecycle() {
	go func() {
		for e := range c.cache.Expires() {
			c.unsubscribeResource(e.Type, e.ID)
		}
	}()
	go func() {
		for e := range c.cache.Clears() {
			c.unsubscribeResource(e.Type, e.ID)
		}
	}()
}

// fetchForAccessFilter resolves the subject of a SUBSCRIBE for the access
// filter's post hook: a single document via the cache for resource/field
// channels, or a page of ids for view channels.
func (c *Core) fetchForAccessFilter(ctx context.Context, parsed *channel.Parsed) (any, error) {
	switch parsed.Kind {
	case channel.KindResource, channel.KindField:
		return c.cache.Pass(ctx, parsed.Type, parsed.ID, func(ctx context.Context) (map[string]any, error) {
			return c.db.Get(ctx, parsed.Type, parsed.ID)
		})
	case channel.KindView:
		model, ok := c.schema.Models[parsed.Type]
		if !ok {
			return nil, &errs.CRUDInvalidModelType{Type: parsed.Type}
		}
		view, ok := model.Views[parsed.View]
		if !ok {
			return nil, &errs.CRUDInvalidParams{Message: fmt.Sprintf("undeclared view %q", parsed.View)}
		}
		return c.readCollection(ctx, parsed.Type, view, parsed.ViewParams, 0, c.schema.MaxPageSizeFor(parsed.Type), false, -1)
	default:
		return nil, nil
	}
}

func (c *Core) resourcePath(typ, id string) string { return typ + "/" + id }

// ensureResourceSubscription lazily subscribes to a resource's own channel
// so upstream changes (deletes/clears raised elsewhere) reach Cache.Clear.
// Idempotent per (type,id).
func (c *Core) ensureResourceSubscription(ctx context.Context, typ, id string) {
	if c.exchange == nil {
		return
	}
	path := c.resourcePath(typ, id)

	c.mu.Lock()
	if _, ok := c.resourceSubs[path]; ok {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	stream, cleanup, err := c.exchange.Subscribe(subCtx, channel.ResourceName(typ, id), nil, nil)
	if err != nil {
		cancel()
		c.log.Warn("failed to subscribe to resource channel", "type", typ, "id", id, "error", err)
		return
	}

	c.mu.Lock()
	c.resourceSubs[path] = func() { cancel(); cleanup() }
	c.mu.Unlock()

	go func() {
		for range stream {
			c.cache.Clear(typ, id)
		}
	}()
}

func (c *Core) unsubscribeResource(typ, id string) {
	path := c.resourcePath(typ, id)

	c.mu.Lock()
	cleanup, ok := c.resourceSubs[path]
	if ok {
		delete(c.resourceSubs, path)
	}
	c.mu.Unlock()

	if ok {
		cleanup()
	}
}
